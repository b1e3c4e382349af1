package copyjob

import (
	"context"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sdejongh/kopier/pkg/models"
	"github.com/sdejongh/kopier/pkg/storage"
)

// memFS is an in-memory FileSystem that records every call and tracks how
// many calls run at the same time
type memFS struct {
	mu    sync.Mutex
	nodes map[string]*memNode
	calls []string
	caps  map[string]storage.Capabilities
	hook  func(ctx context.Context, op string, urls []url.URL) error
	batch int

	active    atomic.Int32
	maxActive atomic.Int32
}

type memNode struct {
	dir   bool
	link  string
	size  int64
	mtime time.Time
}

func newMemFS() *memFS {
	return &memFS{
		nodes: make(map[string]*memNode),
		caps:  make(map[string]storage.Capabilities),
		batch: 2,
	}
}

func loc(s string) url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return *u
}

func memKey(u url.URL) string {
	return u.Scheme + "://" + u.Host + path.Clean("/"+u.Path)
}

func (m *memFS) addParents(u url.URL) {
	for p := path.Dir(path.Clean("/" + u.Path)); p != "/"; p = path.Dir(p) {
		pu := u
		pu.Path = p
		if _, ok := m.nodes[memKey(pu)]; !ok {
			m.nodes[memKey(pu)] = &memNode{dir: true}
		}
	}
}

func (m *memFS) dir(s string) *memFS {
	u := loc(s)
	m.addParents(u)
	m.nodes[memKey(u)] = &memNode{dir: true, mtime: time.Unix(1000, 0)}
	return m
}

func (m *memFS) file(s string, size int64) *memFS {
	u := loc(s)
	m.addParents(u)
	m.nodes[memKey(u)] = &memNode{size: size, mtime: time.Unix(2000, 0)}
	return m
}

func (m *memFS) symlink(s, target string) *memFS {
	u := loc(s)
	m.addParents(u)
	m.nodes[memKey(u)] = &memNode{link: target, size: int64(len(target))}
	return m
}

func (m *memFS) node(s string) *memNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[memKey(loc(s))]
}

func (m *memFS) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *memFS) count(op string) int {
	n := 0
	for _, c := range m.callLog() {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func (m *memFS) callsOf(op string) []string {
	var out []string
	for _, c := range m.callLog() {
		if strings.HasPrefix(c, op+" ") {
			out = append(out, c)
		}
	}
	return out
}

func (m *memFS) enter(ctx context.Context, op string, urls ...url.URL) error {
	n := m.active.Add(1)
	for {
		cur := m.maxActive.Load()
		if n <= cur || m.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	parts := []string{op}
	for _, u := range urls {
		parts = append(parts, u.Path)
	}
	m.mu.Lock()
	m.calls = append(m.calls, strings.Join(parts, " "))
	hook := m.hook
	m.mu.Unlock()

	if hook != nil {
		return hook(ctx, op, urls)
	}
	return nil
}

func (m *memFS) leave() {
	m.active.Add(-1)
}

func notExist(op string, u url.URL) error {
	return storage.NewError(op, u, storage.KindNotExist, fs.ErrNotExist)
}

func existsErr(op string, u url.URL, n *memNode) error {
	if n.dir {
		return storage.NewError(op, u, storage.KindDirAlreadyExists, nil)
	}
	return storage.NewError(op, u, storage.KindAlreadyExists, nil)
}

func (m *memFS) checkDest(op string, src, dst url.URL, overwrite bool) error {
	if memKey(src) == memKey(dst) {
		return storage.NewError(op, dst, storage.KindIdenticalFiles, nil)
	}
	n, ok := m.nodes[memKey(dst)]
	if !ok {
		return nil
	}
	if n.dir || !overwrite {
		return existsErr(op, dst, n)
	}
	return nil
}

func (m *memFS) children(u url.URL) []string {
	prefix := memKey(u) + "/"
	var keys []string
	for k := range m.nodes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *memFS) Stat(ctx context.Context, u url.URL) (storage.Entry, error) {
	defer m.leave()
	if err := m.enter(ctx, "stat", u); err != nil {
		return storage.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[memKey(u)]
	if !ok {
		return storage.Entry{}, notExist("stat", u)
	}
	return entryOf(path.Base(path.Clean("/"+u.Path)), n), nil
}

func entryOf(name string, n *memNode) storage.Entry {
	e := storage.Entry{
		Name:        name,
		IsDir:       n.dir,
		IsLink:      n.link != "",
		LinkTarget:  n.link,
		Size:        n.size,
		ModTime:     n.mtime,
		Permissions: 0o644,
	}
	if n.dir {
		e.Permissions = 0o755
	}
	return e
}

func (m *memFS) List(ctx context.Context, u url.URL, fn func([]storage.Entry) error) error {
	defer m.leave()
	if err := m.enter(ctx, "list", u); err != nil {
		return err
	}

	m.mu.Lock()
	root := memKey(u)
	var entries []storage.Entry
	for _, k := range m.children(u) {
		e := entryOf(path.Base(k), m.nodes[k])
		e.RelPath = strings.TrimPrefix(k, root+"/")
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for len(entries) > 0 {
		n := min(m.batch, len(entries))
		if err := fn(entries[:n]); err != nil {
			return err
		}
		entries = entries[n:]
	}
	return nil
}

func (m *memFS) Mkdir(ctx context.Context, u url.URL, permissions int) error {
	defer m.leave()
	if err := m.enter(ctx, "mkdir", u); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.nodes[memKey(u)]; ok {
		return existsErr("mkdir", u, n)
	}
	m.nodes[memKey(u)] = &memNode{dir: true}
	return nil
}

func (m *memFS) Copy(ctx context.Context, src, dst url.URL, opts storage.CopyOptions) error {
	defer m.leave()
	if err := m.enter(ctx, "copy", src, dst); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[memKey(src)]
	if !ok {
		return notExist("copy", src)
	}
	if err := m.checkDest("copy", src, dst, opts.Overwrite); err != nil {
		return err
	}
	m.nodes[memKey(dst)] = &memNode{size: n.size, mtime: opts.ModTime}
	if opts.Progress != nil {
		opts.Progress(n.size)
	}
	return nil
}

func (m *memFS) Move(ctx context.Context, src, dst url.URL, opts storage.CopyOptions) error {
	defer m.leave()
	if err := m.enter(ctx, "move", src, dst); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[memKey(src)]
	if !ok {
		return notExist("move", src)
	}
	if err := m.checkDest("move", src, dst, opts.Overwrite); err != nil {
		return err
	}
	m.nodes[memKey(dst)] = n
	delete(m.nodes, memKey(src))
	return nil
}

func (m *memFS) Symlink(ctx context.Context, target string, dst url.URL, overwrite bool) error {
	defer m.leave()
	if err := m.enter(ctx, "symlink", dst); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.nodes[memKey(dst)]; ok && (n.dir || !overwrite) {
		return existsErr("symlink", dst, n)
	}
	m.nodes[memKey(dst)] = &memNode{link: target, size: int64(len(target))}
	return nil
}

func (m *memFS) Rename(ctx context.Context, src, dst url.URL, overwrite bool) error {
	defer m.leave()
	if err := m.enter(ctx, "rename", src, dst); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[memKey(src)]
	if !ok {
		return notExist("rename", src)
	}
	if d, ok := m.nodes[memKey(dst)]; ok && !overwrite {
		return existsErr("rename", dst, d)
	}
	oldRoot, newRoot := memKey(src), memKey(dst)
	for _, k := range m.children(src) {
		m.nodes[newRoot+strings.TrimPrefix(k, oldRoot)] = m.nodes[k]
		delete(m.nodes, k)
	}
	m.nodes[newRoot] = n
	delete(m.nodes, oldRoot)
	return nil
}

func (m *memFS) Rmdir(ctx context.Context, u url.URL) error {
	defer m.leave()
	if err := m.enter(ctx, "rmdir", u); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[memKey(u)]; !ok {
		return notExist("rmdir", u)
	}
	if len(m.children(u)) > 0 {
		return storage.NewError("rmdir", u, storage.KindNotEmpty, nil)
	}
	delete(m.nodes, memKey(u))
	return nil
}

func (m *memFS) Remove(ctx context.Context, u url.URL) error {
	defer m.leave()
	if err := m.enter(ctx, "remove", u); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[memKey(u)]
	if !ok {
		return notExist("remove", u)
	}
	if n.dir {
		return storage.NewError("remove", u, storage.KindIsDirectory, nil)
	}
	delete(m.nodes, memKey(u))
	return nil
}

func (m *memFS) SetModTime(ctx context.Context, u url.URL, t time.Time) error {
	defer m.leave()
	if err := m.enter(ctx, "set-mtime", u); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.nodes[memKey(u)]
	if !ok {
		return notExist("set-mtime", u)
	}
	n.mtime = t
	return nil
}

func (m *memFS) Capabilities(u url.URL) storage.Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caps[u.Scheme]; ok {
		return c
	}
	return storage.Capabilities{
		CanRename:        true,
		SupportsDeleting: true,
		SupportsListing:  true,
		SupportsSymlink:  true,
	}
}

// eventLog collects lifecycle events
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Emit(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) renames() []Renamed {
	var out []Renamed
	for _, e := range l.all() {
		if r, ok := e.(Renamed); ok {
			out = append(out, r)
		}
	}
	return out
}

// chanSink hands progress snapshots to a test
type chanSink chan models.Progress

func (c chanSink) Report(p models.Progress) {
	select {
	case c <- p:
	default:
	}
}

// scriptedResolver answers conflicts from a function and keeps every request
type scriptedResolver struct {
	mu       sync.Mutex
	requests []models.ConflictRequest
	answer   func(req models.ConflictRequest) models.Decision
}

func (r *scriptedResolver) AskRename(ctx context.Context, req models.ConflictRequest) (models.Decision, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.answer(req), nil
}

func (r *scriptedResolver) asked() []models.ConflictRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ConflictRequest(nil), r.requests...)
}

func always(action models.DecisionAction) *scriptedResolver {
	return &scriptedResolver{answer: func(models.ConflictRequest) models.Decision {
		return models.Decision{Action: action}
	}}
}
