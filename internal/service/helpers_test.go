package service_test

import (
	"context"
	"sync"

	"notify-service/internal/domain/entity"
)

type fakeAdapter struct {
	channel entity.Channel
	send    func(dest entity.Destination, title, body string) entity.SendResult

	mu     sync.Mutex
	calls  []entity.Destination
	extras []map[string]any
}

func (a *fakeAdapter) Channel() entity.Channel { return a.channel }

func (a *fakeAdapter) Send(_ context.Context, dest entity.Destination, title, body string, extra map[string]any) entity.SendResult {
	a.mu.Lock()
	a.calls = append(a.calls, dest)
	a.extras = append(a.extras, extra)
	a.mu.Unlock()
	return a.send(dest, title, body)
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAdapter) lastExtra() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.extras) == 0 {
		return nil
	}
	return a.extras[len(a.extras)-1]
}

func succeedWith(id, status string) func(entity.Destination, string, string) entity.SendResult {
	return func(entity.Destination, string, string) entity.SendResult {
		return entity.SendResult{Success: true, ProviderMessageID: id, ProviderStatus: status}
	}
}

type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]*entity.User
	updates map[string][]map[string]any
}

func newFakeDirectory(users ...*entity.User) *fakeDirectory {
	d := &fakeDirectory{
		users:   make(map[string]*entity.User),
		updates: make(map[string][]map[string]any),
	}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (*entity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return u, nil
}

func (d *fakeDirectory) UpdateUser(_ context.Context, id string, fields map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates[id] = append(d.updates[id], fields)
	return nil
}

func (d *fakeDirectory) lastUpdate(id string) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := d.updates[id]
	if len(u) == 0 {
		return nil
	}
	return u[len(u)-1]
}

type fakeRenderer struct{}

func (fakeRenderer) Render(name string, vars map[string]any) (string, string, error) {
	if name != "welcome" {
		return "", "", entity.ErrNotFound
	}
	return "Welcome aboard", "<p>Hello " + vars["firstName"].(string) + "</p>", nil
}

type fakeValidator struct {
	kinds map[string]entity.ErrorKind
}

func (v fakeValidator) ValidateToken(_ context.Context, token string) (entity.ErrorKind, error) {
	kind := v.kinds[token]
	if kind != entity.ErrorKindNone && kind != entity.ErrorKindPermanentInvalidTarget {
		return kind, entity.ErrProvider
	}
	return kind, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.StatusChangedEvent
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, e entity.StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) transitions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, string(e.From)+"->"+string(e.To))
	}
	return out
}

const (
	tokenA = "token-A-0123456789abcdefghij"
	tokenB = "token-B-0123456789abcdefghij"
	tokenC = "token-C-0123456789abcdefghij"
)
