// Package idgen: идентификаторы комнат и сообщений в виде ULID. Они
// сортируются по времени создания и внутри процесса строго растут, поэтому
// id сообщения служит и курсором прочтения.
package idgen

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator выдаёт монотонные ULID; безопасен для конкурентного доступа.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

func New() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewID: id одного Generator сравниваются в порядке создания.
func (g *Generator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return id.String(), nil
}

// Time: метка времени (мс), зашитая в ULID.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("idgen: invalid id %q: %w", id, err)
	}
	return ulid.Time(parsed.Time()), nil
}
