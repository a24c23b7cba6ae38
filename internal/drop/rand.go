package drop

import (
	crand "crypto/rand"
	"errors"
	"math/big"
	"sort"

	"github.com/nantokaworks/giftdrop-bot/internal/types"
)

var errInvalidRandomBound = errors.New("invalid random bound")

// shuffleRandomInt is swappable in tests for deterministic draws.
var shuffleRandomInt = secureRandomInt

func secureRandomInt(max int) (int, error) {
	if max <= 0 {
		return 0, errInvalidRandomBound
	}

	n, err := crand.Int(crand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// pickWinningSlots selects which 2 of the 4 slots hold a real prize, via a
// Fisher-Yates shuffle of the slot indices. Per-slot coin flips would not
// do: they can yield anywhere from 0 to 4 winners.
func pickWinningSlots() ([]int, error) {
	slots := make([]int, types.SlotCount)
	for i := range slots {
		slots[i] = i
	}

	for i := len(slots) - 1; i > 0; i-- {
		j, err := shuffleRandomInt(i + 1)
		if err != nil {
			return nil, err
		}
		slots[i], slots[j] = slots[j], slots[i]
	}

	winning := slots[:types.WinningSlotCount]
	sort.Ints(winning)
	return winning, nil
}
