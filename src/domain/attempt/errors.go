package attempt

import (
	"errors"
	"fmt"

	"github.com/velvet-oracle/ritual/src/domain/shared"
)

var (
	ErrAttemptNotFound  = fmt.Errorf("attempt %w", shared.ErrNotFound)
	ErrAlreadyCompleted = errors.New("attempt already completed")
	ErrInvalidScore     = fmt.Errorf("score must be within 0 and score max: %w", shared.ErrInvalidArgument)
	ErrInvalidTime      = fmt.Errorf("time total must not be negative: %w", shared.ErrInvalidArgument)
)
