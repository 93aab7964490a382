package httpapi

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/quillforge/quillforge/pkg/apperr"
	"github.com/quillforge/quillforge/pkg/auth"
	"github.com/quillforge/quillforge/pkg/blobstore"
	"github.com/quillforge/quillforge/pkg/storage"
	"github.com/quillforge/quillforge/pkg/types"
)

type fakeDocumentRepo struct {
	mu   sync.Mutex
	byID map[string]*types.Document
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{byID: make(map[string]*types.Document)}
}

func (f *fakeDocumentRepo) Create(ctx context.Context, subject types.Subject, doc *types.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[doc.ID] = doc
	return nil
}

func (f *fakeDocumentRepo) Get(ctx context.Context, subject types.Subject, id string) (*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok || d.WorkspaceID != subject.WorkspaceID || d.DeletedAt != nil {
		return nil, apperr.NotFoundf("document %s not found", id)
	}
	return d, nil
}

func (f *fakeDocumentRepo) List(ctx context.Context, subject types.Subject, filter storage.DocumentFilter) ([]*types.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Document
	for _, d := range f.byID {
		if d.WorkspaceID == subject.WorkspaceID && (filter.IncludeDeleted || d.DeletedAt == nil) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDocumentRepo) SoftDelete(ctx context.Context, subject types.Subject, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok || d.WorkspaceID != subject.WorkspaceID {
		return apperr.NotFoundf("document %s not found", id)
	}
	now := d.UpdatedAt
	d.DeletedAt = &now
	return nil
}

var _ storage.DocumentRepository = (*fakeDocumentRepo)(nil)

type fakeTransformationRepo struct {
	mu   sync.Mutex
	byID map[string]*types.Transformation
}

func newFakeTransformationRepo() *fakeTransformationRepo {
	return &fakeTransformationRepo{byID: make(map[string]*types.Transformation)}
}

func (f *fakeTransformationRepo) Create(ctx context.Context, subject types.Subject, t *types.Transformation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[t.ID] = t
	return nil
}

func (f *fakeTransformationRepo) Get(ctx context.Context, subject types.Subject, id string) (*types.Transformation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byID[id]
	if !ok || t.WorkspaceID != subject.WorkspaceID {
		return nil, apperr.NotFoundf("transformation %s not found", id)
	}
	return t, nil
}

func (f *fakeTransformationRepo) List(ctx context.Context, subject types.Subject, filter storage.TransformationFilter) ([]*types.Transformation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Transformation
	for _, t := range f.byID {
		if t.WorkspaceID == subject.WorkspaceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTransformationRepo) ListByDocument(ctx context.Context, subject types.Subject, documentID string) ([]*types.Transformation, error) {
	return nil, nil
}

func (f *fakeTransformationRepo) UpdateStatus(ctx context.Context, id string, status types.TransformationStatus, errorReason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byID[id]; ok {
		t.Status = status
		t.ErrorReason = errorReason
	}
	return nil
}

func (f *fakeTransformationRepo) UpdateResult(ctx context.Context, id string, result string, providerUsed string, tokensUsed int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byID[id]; ok {
		t.Result = &result
		t.ProviderUsed = &providerUsed
		t.TokensUsed = &tokensUsed
	}
	return nil
}

func (f *fakeTransformationRepo) IncrementAttempts(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byID[id]; ok {
		t.Attempts++
	}
	return nil
}

var _ storage.TransformationRepository = (*fakeTransformationRepo)(nil)

type fakePresetRepo struct {
	mu   sync.Mutex
	byID map[string]*types.Preset
}

func newFakePresetRepo() *fakePresetRepo {
	return &fakePresetRepo{byID: make(map[string]*types.Preset)}
}

func (f *fakePresetRepo) Create(ctx context.Context, subject types.Subject, p *types.Preset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = p
	return nil
}

func (f *fakePresetRepo) Get(ctx context.Context, subject types.Subject, id string) (*types.Preset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.WorkspaceID != subject.WorkspaceID || (!p.IsShared && p.UserID != subject.UserID) {
		return nil, apperr.NotFoundf("preset %s not found", id)
	}
	return p, nil
}

func (f *fakePresetRepo) ListAccessible(ctx context.Context, subject types.Subject) ([]*types.Preset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Preset
	for _, p := range f.byID {
		if p.WorkspaceID == subject.WorkspaceID && (p.IsShared || p.UserID == subject.UserID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePresetRepo) Update(ctx context.Context, subject types.Subject, p *types.Preset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = p
	return nil
}

func (f *fakePresetRepo) Delete(ctx context.Context, subject types.Subject, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
	return nil
}

func (f *fakePresetRepo) IncrementUsage(ctx context.Context, subject types.Subject, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byID[id]; ok {
		p.UsageCount++
	}
	return nil
}

var _ storage.PresetRepository = (*fakePresetRepo)(nil)

type fakeUserRepo struct {
	mu      sync.Mutex
	byEmail map[string]*types.User
	byID    map[string]*types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byEmail: make(map[string]*types.User), byID: make(map[string]*types.User)}
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return nil, apperr.NotFoundf("user with email %s not found", email)
	}
	return u, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("user %s not found", id)
	}
	return u, nil
}

func (f *fakeUserRepo) Create(ctx context.Context, u *types.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byEmail[u.Email]; exists {
		return apperr.New(apperr.Conflict, "email already registered")
	}
	f.byEmail[u.Email] = u
	f.byID[u.ID] = u
	return nil
}

var _ storage.UserRepository = (*fakeUserRepo)(nil)

type fakeWorkspaceRepo struct {
	mu   sync.Mutex
	byID map[string]*types.Workspace
}

func newFakeWorkspaceRepo() *fakeWorkspaceRepo {
	return &fakeWorkspaceRepo{byID: make(map[string]*types.Workspace)}
}

func (f *fakeWorkspaceRepo) Create(ctx context.Context, w *types.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[w.ID] = w
	return nil
}

func (f *fakeWorkspaceRepo) Get(ctx context.Context, id string) (*types.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("workspace %s not found", id)
	}
	return w, nil
}

var _ storage.WorkspaceRepository = (*fakeWorkspaceRepo)(nil)

type fakeSessionRepo struct {
	mu   sync.Mutex
	byID map[string]*types.Session
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{byID: make(map[string]*types.Session)}
}

func (f *fakeSessionRepo) CreateSession(ctx context.Context, s *types.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[s.ID] = s
	return nil
}

func (f *fakeSessionRepo) GetSessionByRefreshHash(ctx context.Context, hash string) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.RefreshTokenHash == hash {
			return s, nil
		}
	}
	return nil, apperr.NotFoundf("session not found")
}

func (f *fakeSessionRepo) RevokeSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.byID[id]; ok {
		s.Revoked = true
	}
	return nil
}

func (f *fakeSessionRepo) RevokeChainFrom(ctx context.Context, rootID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if s, ok := f.byID[id]; ok {
			s.Revoked = true
		}
		for _, s := range f.byID {
			if s.ParentSessionID != nil && *s.ParentSessionID == id {
				queue = append(queue, s.ID)
			}
		}
	}
	return nil
}

func (f *fakeSessionRepo) RootOf(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := sessionID
	for {
		s, ok := f.byID[id]
		if !ok || s.ParentSessionID == nil {
			return id, nil
		}
		id = *s.ParentSessionID
	}
}

// RotateSession mirrors postgres.sessionRepository.RotateSession: the single
// mutex serializes what the real implementation does with a row lock, so
// the same replay/rotation semantics hold under concurrent callers.
func (f *fakeSessionRepo) RotateSession(ctx context.Context, presentedHash string, next *types.Session) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var parent *types.Session
	for _, s := range f.byID {
		if s.RefreshTokenHash == presentedHash {
			parent = s
			break
		}
	}
	if parent == nil {
		return nil, apperr.New(apperr.Unauthenticated, "unknown refresh credential")
	}
	if time.Now().UTC().After(parent.ExpiresAt) {
		return nil, apperr.New(apperr.Unauthenticated, "refresh credential expired")
	}

	if parent.Revoked {
		root := parent.ID
		for {
			s, ok := f.byID[root]
			if !ok || s.ParentSessionID == nil {
				break
			}
			root = *s.ParentSessionID
		}
		queue := []string{root}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if s, ok := f.byID[id]; ok {
				s.Revoked = true
			}
			for _, s := range f.byID {
				if s.ParentSessionID != nil && *s.ParentSessionID == id {
					queue = append(queue, s.ID)
				}
			}
		}
		return nil, apperr.New(apperr.Unauthenticated, "refresh credential already rotated")
	}

	parentCopy := *parent
	next.UserID = parent.UserID
	next.WorkspaceID = parent.WorkspaceID
	next.ParentSessionID = &parent.ID
	f.byID[next.ID] = next
	parent.Revoked = true

	return &parentCopy, nil
}

var (
	_ storage.SessionRepository = (*fakeSessionRepo)(nil)
	_ auth.SessionRepo          = (*fakeSessionRepo)(nil)
)

type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(ctx context.Context, data io.Reader) (string, string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", "", err
	}
	ref := "ref-" + string(raw[:min(len(raw), 8)])
	f.mu.Lock()
	f.data[ref] = raw
	f.mu.Unlock()
	return ref, ref, nil
}

func (f *fakeBlobStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	f.mu.Lock()
	raw, ok := f.data[ref]
	f.mu.Unlock()
	if !ok {
		return nil, apperr.NotFoundf("blob %s", ref)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, ref)
	return nil
}

var _ blobstore.BlobStore = (*fakeBlobStore)(nil)
