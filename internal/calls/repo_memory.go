package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepo struct {
	mu    sync.Mutex
	comms map[string]Communication
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{comms: map[string]Communication{}} }

// Put stores c as-is.
func (r *MemoryRepo) Put(c Communication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comms[c.ID] = clone(c)
}

func clone(c Communication) Communication {
	if c.Receivers != nil {
		rec := make(map[string][]string, len(c.Receivers))
		for k, v := range c.Receivers {
			rec[k] = append([]string(nil), v...)
		}
		c.Receivers = rec
	}
	c.HungUpEndpoints = append([]string(nil), c.HungUpEndpoints...)
	if c.EndedAt != nil {
		t := *c.EndedAt
		c.EndedAt = &t
	}
	return c
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comms[id]
	if !ok {
		return Communication{}, ErrNotFound
	}
	return clone(c), nil
}

func (r *MemoryRepo) FindByExternalCall(ctx context.Context, externalCallID, transferredFromCommID string) (Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.comms {
		if c.ExternalCallID == externalCallID && c.TransferredFromCommID == transferredFromCommID {
			return clone(c), nil
		}
	}
	return Communication{}, ErrNotFound
}

func (r *MemoryRepo) Create(ctx context.Context, c Communication) (Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.comms[c.ID] = clone(c)
	return clone(c), nil
}

func (r *MemoryRepo) update(id string, fn func(c *Communication)) (Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comms[id]
	if !ok {
		return Communication{}, ErrNotFound
	}
	fn(&c)
	r.comms[id] = c
	return clone(c), nil
}

func (r *MemoryRepo) SetUser(ctx context.Context, id, userID string) error {
	_, err := r.update(id, func(c *Communication) { c.UserID = userID })
	return err
}

func (r *MemoryRepo) SetParty(ctx context.Context, id, partyID string) error {
	_, err := r.update(id, func(c *Communication) { c.PartyID = partyID })
	return err
}

func (r *MemoryRepo) SetReceivers(ctx context.Context, id string, receivers map[string][]string) error {
	_, err := r.update(id, func(c *Communication) {
		c.Receivers = clone(Communication{Receivers: receivers}).Receivers
	})
	return err
}

func (r *MemoryRepo) SetFromQueue(ctx context.Context, id string) error {
	_, err := r.update(id, func(c *Communication) { c.FromQueue = true })
	return err
}

func (r *MemoryRepo) MarkEndpointHungUp(ctx context.Context, id, username string) (Communication, error) {
	return r.update(id, func(c *Communication) {
		for _, e := range c.HungUpEndpoints {
			if e == username {
				return
			}
		}
		c.HungUpEndpoints = append(c.HungUpEndpoints, username)
	})
}

func (r *MemoryRepo) MarkAnswered(ctx context.Context, id, userID string) (Communication, bool, error) {
	won := false
	c, err := r.update(id, func(c *Communication) {
		if c.Answered {
			return
		}
		c.Answered = true
		c.UserID = userID
		c.Outcome = OutcomeAnswered
		c.MissedReason = ""
		won = true
	})
	return c, won, err
}

func (r *MemoryRepo) ReleaseAnswer(ctx context.Context, id, userID string) error {
	_, err := r.update(id, func(c *Communication) {
		if !c.Answered || c.UserID != userID {
			return
		}
		c.Answered = false
		c.UserID = ""
		c.Outcome = ""
	})
	return err
}

func (r *MemoryRepo) RecordOutcome(ctx context.Context, id string, outcome Outcome, reason MissedReason) (Communication, error) {
	return r.update(id, func(c *Communication) {
		if c.Answered && outcome != OutcomeAnswered {
			return
		}
		c.Outcome = outcome
		c.MissedReason = reason
	})
}

func (r *MemoryRepo) MarkEnded(ctx context.Context, id string, at time.Time) error {
	_, err := r.update(id, func(c *Communication) {
		if c.EndedAt == nil {
			c.EndedAt = &at
		}
	})
	return err
}

func (r *MemoryRepo) OpenForAgent(ctx context.Context, userID string) ([]Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Communication
	for _, c := range r.comms {
		if c.EndedAt != nil {
			continue
		}
		if _, offered := c.Receivers[userID]; offered || c.UserID == userID {
			out = append(out, clone(c))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepo) ListByTeam(ctx context.Context, teamID string, from, to time.Time) ([]Communication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Communication
	for _, c := range r.comms {
		if c.TeamID != teamID {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, clone(c))
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(cs []Communication) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.Before(cs[j].CreatedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
