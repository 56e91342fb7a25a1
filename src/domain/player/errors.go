package player

import (
	"errors"
	"fmt"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

var (
	ErrPlayerNotFound     = fmt.Errorf("player %w", shared.ErrNotFound)
	ErrIdentityConflict   = fmt.Errorf("signup token already bound to another identity: %w", shared.ErrConflict)
	ErrAccessExpired      = errors.New("access window expired and renewal cycles exhausted")
	ErrNoFreeAttemptsLeft = errors.New("no free attempts left")
)
