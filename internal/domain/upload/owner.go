package upload

import (
	"context"
	"fmt"
)

// OwnerRef identifies the external principal an upload belongs to, e.g.
// {Kind: "user", ID: "42"}. Identity itself is resolved outside this package.
type OwnerRef struct {
	Kind string
	ID   string
}

func (o OwnerRef) String() string {
	return o.Kind + ":" + o.ID
}

func sameOwner(a, b *OwnerRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// OwnerRegistry decides which owners may hold uploads.
type OwnerRegistry interface {
	Allowed(ctx context.Context, owner OwnerRef) error
}

// KindAllowlist admits owners whose Kind is listed. An empty list admits all.
type KindAllowlist map[string]bool

func NewKindAllowlist(kinds ...string) KindAllowlist {
	l := make(KindAllowlist, len(kinds))
	for _, k := range kinds {
		if k != "" {
			l[k] = true
		}
	}
	return l
}

func (l KindAllowlist) Allowed(_ context.Context, owner OwnerRef) error {
	if len(l) == 0 || l[owner.Kind] {
		return nil
	}
	return fmt.Errorf("%w (kind %q)", ErrOwnerNotAllowed, owner.Kind)
}
