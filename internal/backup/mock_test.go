package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/edvin/photovault/internal/destination"
	"github.com/edvin/photovault/internal/model"
)

// ---------- Fake run store ----------

type fakeRunStore struct {
	mu   sync.Mutex
	runs []*model.BackupRun

	createErr error
	finishErr error
}

func (s *fakeRunStore) Create(ctx context.Context, run *model.BackupRun) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs = append(s.runs, &cp)
	return nil
}

// Finish mirrors the real service's UPDATE column set rather than
// replacing the whole row, so a field the service never writes stays
// stale here too.
func (s *fakeRunStore) Finish(ctx context.Context, run *model.BackupRun) error {
	if s.finishErr != nil {
		return s.finishErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == run.ID {
			r.Type = run.Type
			r.Status = run.Status
			r.CompletedAt = run.CompletedAt
			r.FilesBackedUp = run.FilesBackedUp
			r.TotalSizeBytes = run.TotalSizeBytes
			r.ErrorMessage = run.ErrorMessage
			r.ManifestPath = run.ManifestPath
			r.ManifestID = run.ManifestID
			return nil
		}
	}
	return fmt.Errorf("run %s not found", run.ID)
}

func (s *fakeRunStore) GetByID(ctx context.Context, id string) (*model.BackupRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("run %s not found", id)
}

func (s *fakeRunStore) ListRecent(ctx context.Context, limit int) ([]model.BackupRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BackupRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.runs[i])
	}
	return out, nil
}

func (s *fakeRunStore) LastWithManifest(ctx context.Context) (*model.BackupRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.ManifestID != nil &&
			(r.Status == model.RunStatusCompleted || r.Status == model.RunStatusCompletedWithErrors) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeRunStore) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*model.BackupRun
	var deleted int64
	for _, r := range s.runs {
		if r.StartedAt.Before(cutoff) && r.Status != model.RunStatusRunning {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.runs = kept
	return deleted, nil
}

// last returns the most recently created run row.
func (s *fakeRunStore) last() *model.BackupRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil
	}
	return s.runs[len(s.runs)-1]
}

// ---------- Fake file-state store ----------

type fakeFileStateStore struct {
	mu     sync.Mutex
	states map[string]model.FileState

	loadErr error
}

func newFakeFileStateStore() *fakeFileStateStore {
	return &fakeFileStateStore{states: make(map[string]model.FileState)}
}

func (s *fakeFileStateStore) LoadAll(ctx context.Context) (map[string]model.FileState, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.FileState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out, nil
}

func (s *fakeFileStateStore) Upsert(ctx context.Context, fs *model.FileState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[fs.FilePath] = *fs
	return nil
}

// ---------- Fake settings store ----------

type fakeSettings struct {
	cfg *model.BackupConfiguration
	err error
}

func (s *fakeSettings) LoadBackupConfiguration(ctx context.Context) (*model.BackupConfiguration, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.cfg
	return &cp, nil
}

// ---------- Fake database dump store ----------

type fakeDumpStore struct {
	latest  *model.DatabaseBackupRun
	shipped []string
}

func (s *fakeDumpStore) Latest(ctx context.Context) (*model.DatabaseBackupRun, error) {
	return s.latest, nil
}

func (s *fakeDumpStore) MarkShipped(ctx context.Context, id string) error {
	s.shipped = append(s.shipped, id)
	return nil
}

// ---------- Fake admin directory ----------

type fakeAdminDirectory struct {
	admins []model.AdminUser
}

func (s *fakeAdminDirectory) ListActiveAdmins(ctx context.Context) ([]model.AdminUser, error) {
	return s.admins, nil
}

// ---------- Fake notifier ----------

type fakeNotifier struct {
	mu     sync.Mutex
	emails []string
	errMsg string
	calls  int
}

func (n *fakeNotifier) SendFailureNotification(ctx context.Context, adminEmails []string, errorMessage, runID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	n.emails = adminEmails
	n.errMsg = errorMessage
	return nil
}

// ---------- Fake destination ----------

// fakeDestination is an in-memory sink recording every call, with
// injectable per-key upload failures.
type fakeDestination struct {
	mu          sync.Mutex
	objects     map[string][]byte
	uploadCalls map[string]int

	// failUploads[key] = number of times Upload fails before succeeding;
	// a negative count fails forever.
	failUploads map[string]int
	connectErr  error

	// failStreamPrefix makes UploadStream fail for any key under the
	// prefix, e.g. to break manifest storage.
	failStreamPrefix string
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{
		objects:     make(map[string][]byte),
		uploadCalls: make(map[string]int),
		failUploads: make(map[string]int),
	}
}

func (d *fakeDestination) TestConnection(ctx context.Context) error {
	return d.connectErr
}

func (d *fakeDestination) Upload(ctx context.Context, localPath, key string) error {
	d.mu.Lock()
	d.uploadCalls[key]++
	remaining, failing := d.failUploads[key]
	if failing && remaining != 0 {
		if remaining > 0 {
			d.failUploads[key] = remaining - 1
		}
		d.mu.Unlock()
		return fmt.Errorf("simulated upload failure for %s", key)
	}
	d.mu.Unlock()

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.objects[key] = data
	d.mu.Unlock()
	return nil
}

func (d *fakeDestination) UploadStream(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploadCalls[key]++
	if d.failStreamPrefix != "" && strings.HasPrefix(key, d.failStreamPrefix) {
		return fmt.Errorf("simulated stream failure for %s", key)
	}
	if remaining, failing := d.failUploads[key]; failing && remaining != 0 {
		if remaining > 0 {
			d.failUploads[key] = remaining - 1
		}
		return fmt.Errorf("simulated upload failure for %s", key)
	}
	d.objects[key] = data
	return nil
}

func (d *fakeDestination) Exists(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[key]
	return ok, nil
}

func (d *fakeDestination) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *fakeDestination) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, key)
	return nil
}

func (d *fakeDestination) List(ctx context.Context, prefix string) ([]destination.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []destination.Object
	for k, v := range d.objects {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == prefix) {
			out = append(out, destination.Object{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (d *fakeDestination) URI(key string) string {
	return "fake://" + key
}

// totalFileUploadCalls counts Upload invocations, excluding manifest and
// summary artifacts.
func (d *fakeDestination) totalFileUploadCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for k, n := range d.uploadCalls {
		if len(k) >= len(manifestPrefix) && k[:len(manifestPrefix)] == manifestPrefix {
			continue
		}
		total += n
	}
	return total
}
