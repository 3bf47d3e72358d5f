package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/spfs-project/spfs/pkg/encoding"
	"github.com/spfs-project/spfs/pkg/graph"
	"github.com/spfs-project/spfs/pkg/repo"
	"github.com/spfs-project/spfs/pkg/spfserrors"
	"github.com/spfs-project/spfs/pkg/storage/fs"
	"github.com/spfs-project/spfs/pkg/tracking"
)

// Client is a repo.Repository that forwards every call to a Server over
// HTTP. Transient network failures are retried by an underlying
// retryablehttp.Client, since an RPC repository talks to a remote peer
// whose network path is expected to occasionally hiccup (unlike the local
// filesystem backend, where a failed syscall is never worth retrying).
type Client struct {
	baseURL string
	http    *http.Client

	objects  *remoteObjectStore
	payloads *remotePayloadStore
	tags     *remoteTagStore
}

// NewClient returns a Client talking to baseURL (e.g. "http://repo.example.com").
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	httpClient := rc.StandardClient()

	c := &Client{baseURL: baseURL, http: httpClient}
	c.objects = &remoteObjectStore{c}
	c.payloads = &remotePayloadStore{c}
	c.tags = &remoteTagStore{c}
	return c
}

func (c *Client) ObjectStore() repo.ObjectStore   { return c.objects }
func (c *Client) PayloadStore() repo.PayloadStore { return c.payloads }
func (c *Client) TagStore() repo.TagStore         { return c.tags }

// Renderer reports that an RPC client exposes no local render storage:
// rendering is always a client-side operation against locally-synced
// objects, so every call returns ErrNoRenderStorage rather
// than a nil interface value callers would need to guard against.
func (c *Client) Renderer() repo.Renderer { return noRenderer{} }

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}

func remoteErr(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	switch body.Kind {
	case "UnknownObject":
		return &spfserrors.UnknownObject{Digest: body.Message}
	case "UnknownReference":
		return &spfserrors.UnknownReference{Reference: body.Message}
	case "AmbiguousReference":
		return &spfserrors.AmbiguousReference{Reference: body.Message}
	case "InvalidReference":
		return &spfserrors.InvalidReference{Reference: body.Message}
	default:
		if body.Message != "" {
			return fmt.Errorf("rpc: %s", body.Message)
		}
		return fmt.Errorf("rpc: unexpected status %d", resp.StatusCode)
	}
}

// --- object database ---

type remoteObjectStore struct{ c *Client }

var _ repo.ObjectStore = (*remoteObjectStore)(nil)

func (s *remoteObjectStore) GetObject(ctx context.Context, digest encoding.Digest) (graph.Object, error) {
	resp, err := s.c.do(ctx, http.MethodGet, "/objects/"+digest.String(), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, remoteErr(resp)
	}
	return graph.DecodeObject(resp.Body)
}

func (s *remoteObjectStore) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	var buf bytes.Buffer
	if err := encodeObject(&buf, obj); err != nil {
		return encoding.Digest{}, err
	}
	digest, err := graph.ComputeDigest(obj)
	if err != nil {
		return encoding.Digest{}, err
	}
	resp, err := s.c.do(ctx, http.MethodPut, "/objects/"+digest.String(), &buf, mimeIdentity)
	if err != nil {
		return encoding.Digest{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return encoding.Digest{}, remoteErr(resp)
	}
	return digest, nil
}

func (s *remoteObjectStore) HasObject(ctx context.Context, digest encoding.Digest) (bool, error) {
	resp, err := s.c.do(ctx, http.MethodHead, "/objects/"+digest.String(), nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// RemoveObject is not part of the RPC wire protocol
// (removal is a server-local administrative operation, performed by the
// cleaner running against the server's own filesystem repository, never
// requested by a remote client).
func (s *remoteObjectStore) RemoveObject(ctx context.Context, digest encoding.Digest) error {
	return fmt.Errorf("rpc: RemoveObject is not exposed over the wire protocol")
}

// IterObjects is likewise server-local only: enumerating an entire remote
// repository's object set has no bounded wire representation.
func (s *remoteObjectStore) IterObjects(ctx context.Context, fn func(encoding.Digest) error) error {
	return fmt.Errorf("rpc: IterObjects is not exposed over the wire protocol")
}

func (s *remoteObjectStore) ObjectModTime(digest encoding.Digest) (time.Time, error) {
	return time.Time{}, fmt.Errorf("rpc: ObjectModTime is not exposed over the wire protocol")
}

// ResolvePartial is likewise server-local only: disambiguating a partial
// digest requires scanning the server's full object set, which has no
// bounded wire representation any more than IterObjects does.
func (s *remoteObjectStore) ResolvePartial(ctx context.Context, prefix string) (encoding.Digest, error) {
	return encoding.Digest{}, fmt.Errorf("rpc: ResolvePartial is not exposed over the wire protocol")
}

// --- payload store ---

type remotePayloadStore struct{ c *Client }

var _ repo.PayloadStore = (*remotePayloadStore)(nil)

func (s *remotePayloadStore) HasPayload(ctx context.Context, digest encoding.Digest) (bool, error) {
	resp, err := s.c.do(ctx, http.MethodHead, "/payloads/"+digest.String(), nil, "")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (s *remotePayloadStore) OpenPayload(ctx context.Context, digest encoding.Digest) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.c.baseURL+"/payloads/"+digest.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", mimeBzip2)
	resp, err := s.c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, remoteErr(resp)
	}
	return decompressReader(resp.Body, resp.Header.Get("Content-Type"))
}

func (s *remotePayloadStore) WritePayload(ctx context.Context, digest encoding.Digest, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	cw, err := compressWriter(&buf, mimeBzip2)
	if err != nil {
		return err
	}
	if _, err := cw.Write(data); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}

	resp, err := s.c.do(ctx, http.MethodPost, "/payloads", &buf, mimeBzip2)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return remoteErr(resp)
	}
	var result uploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	got, err := encoding.Parse(result.Digest)
	if err != nil {
		return err
	}
	if got != digest {
		return fmt.Errorf("rpc: server stored payload under %s, expected %s", got, digest)
	}
	return nil
}

func (s *remotePayloadStore) RemovePayload(ctx context.Context, digest encoding.Digest) error {
	return fmt.Errorf("rpc: RemovePayload is not exposed over the wire protocol")
}

func (s *remotePayloadStore) IterPayloads(ctx context.Context, fn func(encoding.Digest) error) error {
	return fmt.Errorf("rpc: IterPayloads is not exposed over the wire protocol")
}

func (s *remotePayloadStore) PayloadModTime(digest encoding.Digest) (time.Time, error) {
	return time.Time{}, fmt.Errorf("rpc: PayloadModTime is not exposed over the wire protocol")
}

// --- tag store ---

type remoteTagStore struct{ c *Client }

var _ repo.TagStore = (*remoteTagStore)(nil)

func toTagEntry(w tagWire) (fs.TagEntry, error) {
	target, err := encoding.Parse(w.Target)
	if err != nil {
		return fs.TagEntry{}, err
	}
	parent := encoding.Nil
	if w.Parent != "" {
		if parent, err = encoding.Parse(w.Parent); err != nil {
			return fs.TagEntry{}, err
		}
	}
	return fs.TagEntry{Target: target, Parent: parent, Timestamp: w.Timestamp, User: w.User, Message: w.Message}, nil
}

func (s *remoteTagStore) Push(org, name string, target encoding.Digest) (fs.TagEntry, error) {
	return s.PushWithMessage(org, name, target, "", "")
}

func (s *remoteTagStore) PushWithMessage(org, name string, target encoding.Digest, user, message string) (fs.TagEntry, error) {
	body, _ := json.Marshal(pushRequest{Target: target.String(), User: user, Message: message})
	resp, err := s.c.do(context.Background(), http.MethodPost, "/tags/"+org+"/"+name, bytes.NewReader(body), "application/json")
	if err != nil {
		return fs.TagEntry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fs.TagEntry{}, remoteErr(resp)
	}
	var w tagWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return fs.TagEntry{}, err
	}
	return toTagEntry(w)
}

func (s *remoteTagStore) Resolve(spec fs.TagSpec) (fs.TagEntry, error) {
	path := "/tags/" + spec.Org + "/" + spec.Name
	if spec.Version != 0 {
		path += "?version=" + strconv.Itoa(spec.Version)
	}
	resp, err := s.c.do(context.Background(), http.MethodGet, path, nil, "")
	if err != nil {
		return fs.TagEntry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fs.TagEntry{}, remoteErr(resp)
	}
	var w tagWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return fs.TagEntry{}, err
	}
	return toTagEntry(w)
}

func (s *remoteTagStore) History(org, name string) ([]fs.TagEntry, error) {
	return nil, fmt.Errorf("rpc: History is not exposed over the wire protocol, use ReadStream")
}

func (s *remoteTagStore) ReadStream(spec fs.TagSpec) ([]fs.TagEntry, error) {
	return nil, fmt.Errorf("rpc: ReadStream is not yet exposed over the wire protocol")
}

func (s *remoteTagStore) ListNames() ([]string, error) {
	resp, err := s.c.do(context.Background(), http.MethodGet, "/tags", nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, remoteErr(resp)
	}
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, err
	}
	return names, nil
}

func (s *remoteTagStore) Ls(path string) ([]fs.EntryType, error) {
	return nil, fmt.Errorf("rpc: Ls is not yet exposed over the wire protocol")
}

func (s *remoteTagStore) FindByDigest(digest encoding.Digest) ([]fs.TagSpec, error) {
	return nil, fmt.Errorf("rpc: FindByDigest is not yet exposed over the wire protocol")
}

func (s *remoteTagStore) Remove(org, name string) error {
	return fmt.Errorf("rpc: Remove is not exposed over the wire protocol")
}

func (s *remoteTagStore) RemoveVersion(spec fs.TagSpec) error {
	return fmt.Errorf("rpc: RemoveVersion is not exposed over the wire protocol")
}

func (s *remoteTagStore) Prune(org, name string, shouldPrune func(version int, e fs.TagEntry) bool) (int, error) {
	return 0, fmt.Errorf("rpc: Prune is not exposed over the wire protocol")
}

// --- renderer ---

// noRenderer is the Renderer an RPC Client exposes, since rendering always
// runs against locally synced objects rather than over the wire: every
// call fails with ErrNoRenderStorage instead of the interface being nil,
// so callers never need a guard before using it.
type noRenderer struct{}

var _ repo.Renderer = noRenderer{}

func (noRenderer) Render(ctx context.Context, manifestDigest encoding.Digest, manifest *tracking.Manifest) error {
	return spfserrors.ErrNoRenderStorage
}

func (noRenderer) HasRender(digest encoding.Digest) (bool, error) {
	return false, spfserrors.ErrNoRenderStorage
}

func (noRenderer) RenderPath(digest encoding.Digest) string { return "" }

func (noRenderer) RenderModTime(digest encoding.Digest) (time.Time, error) {
	return time.Time{}, spfserrors.ErrNoRenderStorage
}

func (noRenderer) IterRenders(ctx context.Context, fn func(encoding.Digest) error) error {
	return spfserrors.ErrNoRenderStorage
}

func (noRenderer) Remove(digest encoding.Digest) error {
	return spfserrors.ErrNoRenderStorage
}
