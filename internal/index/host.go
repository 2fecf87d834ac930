package index

import (
	"context"

	"github.com/deltaemu/savestated/internal/models"
)

// Host is the emulator side of the index. It knows which game is running and
// owns the snapshot payloads.
type Host interface {
	// ActiveGame returns the game currently being played.
	ActiveGame(ctx context.Context) (models.Game, error)

	// CaptureState writes the live snapshot payload for rec.Filename. It runs
	// on the writer goroutine and may adjust Name or Filename; the record is
	// committed only if it returns nil.
	CaptureState(ctx context.Context, rec *models.SaveState) error

	// LoadState restores execution from the payload of rec.
	LoadState(ctx context.Context, rec models.SaveState) error
}

// PayloadRemover is implemented by hosts that delete payloads together with
// their records.
type PayloadRemover interface {
	RemoveState(ctx context.Context, rec models.SaveState) error
}
