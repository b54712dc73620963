package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
	"github.com/vfsgate/vfsgate/gateway/storage/oauth"
)

// newDriveDriver wires the inner driver against an httptest Drive API stub so
// tests can observe the queries it sends and script the responses.
func newDriveDriver(t *testing.T, sharedView bool, handler http.HandlerFunc) *driver {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithHTTPClient(ts.Client()), option.WithEndpoint(ts.URL+"/"))
	require.NoError(t, err)

	return &driver{
		svc:        svc,
		httpc:      ts.Client(),
		rootID:     "root",
		sharedView: sharedView,
		pathIDs:    map[string]string{"/": "root"},
	}
}

func writeFileList(w http.ResponseWriter, files string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"files":[%s]}`, files)
}

const reportJSON = `{"id":"f1","name":"report.txt","mimeType":"text/plain","size":"5","modifiedTime":"2024-01-02T03:04:05Z","md5Checksum":"abc"}`

func TestListInjectsSharedView(t *testing.T) {
	var queries []string
	handler := func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		writeFileList(w, reportJSON)
	}

	d := newDriveDriver(t, true, handler)
	entries, err := d.List(context.Background(), "/", storagedriver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	shared := entries[0]
	assert.Equal(t, "/"+SharedRootName, shared.FsPath)
	assert.True(t, shared.IsVirtual)
	assert.True(t, shared.IsDirectory)
	assert.Equal(t, storagedriver.DirectoryMimeType, shared.MimeType)

	assert.Equal(t, "/report.txt", entries[1].FsPath)
	assert.EqualValues(t, 5, entries[1].Size)
	assert.False(t, entries[1].IsVirtual)

	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], `"root" in parents`)
}

func TestListWithoutSharedView(t *testing.T) {
	d := newDriveDriver(t, false, func(w http.ResponseWriter, r *http.Request) {
		writeFileList(w, reportJSON)
	})

	entries, err := d.List(context.Background(), "/", storagedriver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/report.txt", entries[0].FsPath)

	_, err = d.List(context.Background(), "/"+SharedRootName, storagedriver.ListOptions{})
	var notFound storagedriver.PathNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestListSharedRootQueriesSharedSpace(t *testing.T) {
	var queries []string
	d := newDriveDriver(t, true, func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Get("q"))
		writeFileList(w, reportJSON)
	})

	entries, err := d.List(context.Background(), "/"+SharedRootName, storagedriver.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/"+SharedRootName+"/report.txt", entries[0].FsPath)

	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], "sharedWithMe = true")
}

func TestStatSharedRoot(t *testing.T) {
	unused := func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected API call %s %s", r.Method, r.URL)
	}

	d := newDriveDriver(t, true, unused)
	fe, err := d.Stat(context.Background(), "/"+SharedRootName)
	require.NoError(t, err)
	assert.True(t, fe.IsVirtual)
	assert.True(t, fe.IsDirectory)
	assert.Equal(t, SharedRootName, fe.Name)

	d = newDriveDriver(t, false, unused)
	_, err = d.Stat(context.Background(), "/"+SharedRootName)
	var notFound storagedriver.PathNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func resumeResponse(status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestInterpretResumableResponses(t *testing.T) {
	d := &driver{}

	res, err := d.interpret(resumeResponse(308, http.Header{"Range": {"bytes=0-524287"}}, ""))
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.EqualValues(t, 524288, res.BytesAccepted)

	// a 308 with no Range header means the provider accepted nothing yet
	res, err = d.interpret(resumeResponse(308, nil, ""))
	require.NoError(t, err)
	assert.EqualValues(t, -1, res.BytesAccepted)

	res, err = d.interpret(resumeResponse(200, nil,
		`{"id":"f1","name":"big.bin","size":"100","md5Checksum":"abc"}`))
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.EqualValues(t, 100, res.BytesAccepted)
	require.NotNil(t, res.Result)
	assert.Equal(t, "abc", res.Result.ETag)
	assert.EqualValues(t, 100, res.Result.Size)

	_, err = d.interpret(resumeResponse(404, nil, "session gone"))
	var expired storagedriver.ErrSessionExpired
	assert.ErrorAs(t, err, &expired)

	_, err = d.interpret(resumeResponse(401, nil, ""))
	assert.ErrorIs(t, err, oauth.ErrUnauthorized)

	_, err = d.interpret(resumeResponse(500, nil, "backend error"))
	var drvErr storagedriver.Error
	require.ErrorAs(t, err, &drvErr)
	assert.Equal(t, 500, drvErr.Status)
}

// newResumableDriver pairs a scripted session endpoint with a token endpoint
// so the full signed round trip runs against the stub.
func newResumableDriver(t *testing.T, session http.HandlerFunc) (*driver, string) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"tok-1","expires_in":3600}`)
	})
	mux.HandleFunc("/session", session)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	d := &driver{
		httpc: ts.Client(),
		tokens: oauth.NewManager(oauth.Config{
			RefreshToken:  "refresh",
			ClientID:      "cid",
			ClientSecret:  "secret",
			TokenEndpoint: ts.URL + "/token",
			HTTPClient:    ts.Client(),
		}),
	}
	return d, ts.URL + "/session"
}

func TestMultipartProbeReadsOffset(t *testing.T) {
	var gotAuth, gotRange string
	d, sessURL := newResumableDriver(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRange = r.Header.Get("Content-Range")
		w.Header().Set("Range", "bytes=0-39")
		w.WriteHeader(308)
	})

	sess := &storagedriver.ProviderSession{UploadURL: sessURL}
	res, err := d.MultipartProbe(context.Background(), sess, 100)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.EqualValues(t, 40, res.BytesAccepted)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "bytes */100", gotRange)
}

func TestMultipartPutChunkExpiredSession(t *testing.T) {
	d, sessURL := newResumableDriver(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	})

	sess := &storagedriver.ProviderSession{UploadURL: sessURL}
	_, err := d.MultipartPutChunk(context.Background(), sess, 1,
		"bytes 0-9/100", strings.NewReader("0123456789"), 10)
	var expired storagedriver.ErrSessionExpired
	assert.ErrorAs(t, err, &expired)
}

func TestMultipartPutChunkCompletes(t *testing.T) {
	var gotBody string
	d, sessURL := newResumableDriver(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"f1","name":"a.bin","size":"10","md5Checksum":"abc"}`)
	})

	sess := &storagedriver.ProviderSession{UploadURL: sessURL}
	res, err := d.MultipartPutChunk(context.Background(), sess, 1,
		"bytes 0-9/10", strings.NewReader("0123456789"), 10)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, "0123456789", gotBody)
	require.NotNil(t, res.Result)
	assert.EqualValues(t, 10, res.Result.Size)
}
