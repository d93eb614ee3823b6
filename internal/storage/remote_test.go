package storage

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), mr.Addr(), "", 0, "passe:")
	require.NoError(t, err)
	defer s.Close()

	exercisePersistence(t, s)

	raw, err := mr.Get("passe:users.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, raw)
	assert.True(t, mr.Exists("passe:user-alice.json"))
	assert.False(t, mr.Exists("users.json"))
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), addr, "", 0, "passe:")
	assert.ErrorContains(t, err, "ping redis")
}

// fakeS3 serves path-style GetObject and PutObject from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	case http.MethodPut:
		body, err := readObjectBody(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[r.URL.Path] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// readObjectBody undoes aws-chunked framing when the client streams the upload.
func readObjectBody(r *http.Request) ([]byte, error) {
	if !strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		return io.ReadAll(r.Body)
	}
	var out bytes.Buffer
	br := bufio.NewReader(r.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.Discard(2); err != nil {
			return nil, err
		}
	}
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	s, err := NewS3Store(client, "passe-test", "/passe/")
	require.NoError(t, err)

	exercisePersistence(t, s)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.JSONEq(t, `{"a":2}`, string(fake.objects["/passe-test/passe/users.json"]))
	assert.Contains(t, fake.objects, "/passe-test/passe/user-alice.json")
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(s3.New(s3.Options{Region: "us-east-1"}), "", "passe")
	assert.Error(t, err)
}

// TestSQLStore_Postgres runs against the database named by PASSE_TEST_POSTGRES_DSN.
func TestSQLStore_Postgres(t *testing.T) {
	dsn := os.Getenv("PASSE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PASSE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	s, err := NewSQLStore(db, DialectPostgres)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Init(ctx))
	_, err = db.ExecContext(ctx, `DELETE FROM documents`)
	require.NoError(t, err)
	exercisePersistence(t, s)
}
