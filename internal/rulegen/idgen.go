package rulegen

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IDSource tags which generator in the fallback chain produced an
// identifier. Rule IDs become policy identifiers, so call sites can
// check Strong before trusting one.
type IDSource string

const (
	SourceUUID       IDSource = "uuid"
	SourceCryptoRand IDSource = "crypto_rand"
	SourceMathRand   IDSource = "math_rand"
)

// Strong reports whether the source is cryptographically strong.
func (s IDSource) Strong() bool {
	return s != SourceMathRand
}

// idGenerator is one link in the fallback chain.
type idGenerator struct {
	source IDSource
	gen    func() (string, error)
}

// IDGenerator produces collision-resistant rule identifiers. Generators
// are tried in order; the math/rand fallback never fails, so Generate
// always returns an ID, but a weak one is logged as a warning.
type IDGenerator struct {
	chain  []idGenerator
	logger *zap.Logger
}

// NewIDGenerator builds the default chain: uuid library, then raw
// crypto/rand formatted as a v4 UUID, then math/rand.
func NewIDGenerator(logger *zap.Logger) *IDGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IDGenerator{
		chain: []idGenerator{
			{source: SourceUUID, gen: uuidID},
			{source: SourceCryptoRand, gen: cryptoRandID},
			{source: SourceMathRand, gen: mathRandID},
		},
		logger: logger,
	}
}

// Generate returns a new identifier and the source that produced it.
func (g *IDGenerator) Generate() (string, IDSource) {
	for _, link := range g.chain {
		id, err := link.gen()
		if err != nil {
			g.logger.Warn("identifier source failed, trying next",
				zap.String("source", string(link.source)),
				zap.Error(err))
			continue
		}
		if !link.source.Strong() {
			g.logger.Warn("identifier generation fell back to weak source",
				zap.String("source", string(link.source)),
				zap.String("id", id))
		}
		return id, link.source
	}
	// Unreachable with the default chain; kept so a custom chain cannot
	// return an empty ID silently.
	id, _ := mathRandID()
	g.logger.Warn("identifier chain exhausted, using weak source",
		zap.String("id", id))
	return id, SourceMathRand
}

func uuidID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// cryptoRandID formats 16 crypto/rand bytes as a version 4 UUID.
func cryptoRandID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return formatUUID(b), nil
}

// mathRandID is the weak last resort. Same shape as the strong IDs so
// downstream consumers cannot tell them apart structurally.
func mathRandID() (string, error) {
	var b [16]byte
	for i := 0; i < len(b); i += 8 {
		v := mrand.Uint64()
		for j := 0; j < 8; j++ {
			b[i+j] = byte(v >> (8 * j))
		}
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return formatUUID(b), nil
}

func formatUUID(b [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
