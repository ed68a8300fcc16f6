package memory

import (
	"testing"

	"github.com/sebdeveloper6952/gobuffet/store"
	"github.com/sebdeveloper6952/gobuffet/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
