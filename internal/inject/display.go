package inject

import (
	"errors"
	"fmt"

	"github.com/kalambet/pim/internal/paragraph"
	"github.com/kalambet/pim/internal/storage"
)

// FragmentStore looks up an item's stored fragment.
type FragmentStore interface {
	GetItemFragment(id string) (string, error)
}

// IntervalSource provides the paragraph interval in effect.
type IntervalSource interface {
	Interval() (int, error)
}

// Display splices stored fragments into item markup at render time.
type Display struct {
	store    FragmentStore
	settings IntervalSource
}

func NewDisplay(store FragmentStore, src IntervalSource) *Display {
	return &Display{store: store, settings: src}
}

// Splice returns markup with the item's fragment inserted after every
// interval-th paragraph. Items without a fragment, or unknown items, get
// markup back unchanged. On any other failure the unchanged markup is
// returned together with the error so callers can still display content.
func (d *Display) Splice(itemID, markup string) (string, error) {
	fragment, err := d.store.GetItemFragment(itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return markup, nil
	}
	if err != nil {
		return markup, fmt.Errorf("loading fragment for item %s: %w", itemID, err)
	}
	if fragment == "" {
		return markup, nil
	}

	interval, err := d.settings.Interval()
	if err != nil {
		return markup, fmt.Errorf("loading interval: %w", err)
	}
	return paragraph.Inject(markup, fragment, interval), nil
}
