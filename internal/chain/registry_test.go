package chain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristal2012/flowsniper/internal/models"
)

// fakeMetadataReader serves scripted on-chain token metadata.
type fakeMetadataReader struct {
	symbols  map[string]string
	decimals map[string]uint8
	calls    int
}

func (f *fakeMetadataReader) TokenMetadata(ctx context.Context, token common.Address) (string, uint8, error) {
	f.calls++
	key := strings.ToLower(token.Hex())
	sym, ok := f.symbols[key]
	if !ok {
		return "", 0, fmt.Errorf("no contract at %s", token.Hex())
	}
	return sym, f.decimals[key], nil
}

// memoryRepo is an in-memory TokenRepository for tests.
type memoryRepo struct {
	sync.Mutex
	tokens map[string]models.TokenDescriptor
	saves  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tokens: make(map[string]models.TokenDescriptor)}
}

func (m *memoryRepo) SaveToken(token *models.TokenDescriptor) error {
	m.Lock()
	defer m.Unlock()
	m.saves++
	m.tokens[strings.ToUpper(token.Symbol)] = *token
	return nil
}

func (m *memoryRepo) LoadToken(symbol string) (*models.TokenDescriptor, error) {
	m.Lock()
	defer m.Unlock()
	td, ok := m.tokens[strings.ToUpper(symbol)]
	if !ok {
		return nil, nil
	}
	return &td, nil
}

func (m *memoryRepo) Close() error { return nil }

// TestResolveStaticTable: well-known Polygon tokens come from the static table.
func TestResolveStaticTable(t *testing.T) {
	r := NewRegistry(&fakeMetadataReader{}, nil)

	td, err := r.Resolve(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), td.Decimals)
	assert.Equal(t, "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", td.Address)

	// every symbol that may appear in scan_symbols or liquidation_set must
	// resolve without any chain or repo access
	for _, sym := range []string{
		"USDT", "USDC", "WETH", "WBTC", "WMATIC", "DAI", "LINK",
		"UNI", "AAVE", "QUICK", "LDO", "GHST", "GRT",
	} {
		td, err := r.Resolve(context.Background(), sym)
		require.NoError(t, err, sym)
		assert.NotEmpty(t, td.Address, sym)
		assert.Greater(t, int(td.Decimals), 0, sym)
	}

	_, err = r.Resolve(context.Background(), "NOPE")
	assert.Error(t, err)
}

// TestResolveFromRepo: descriptors cached by an earlier run are served from disk.
func TestResolveFromRepo(t *testing.T) {
	repo := newMemoryRepo()
	require.NoError(t, repo.SaveToken(&models.TokenDescriptor{
		Symbol: "CRV", Address: "0x172370d5Cd63279eFa6d502DAB29171933a610AF", Decimals: 18,
	}))

	r := NewRegistry(&fakeMetadataReader{}, repo)
	td, err := r.Resolve(context.Background(), "CRV")
	require.NoError(t, err)
	assert.Equal(t, uint8(18), td.Decimals)

	// second resolve hits the in-memory table, not the repo
	saves := repo.saves
	_, err = r.Resolve(context.Background(), "CRV")
	require.NoError(t, err)
	assert.Equal(t, saves, repo.saves)
}

// TestResolveAddressReadsChainOnce: unknown addresses are read on-chain,
// persisted, and afterwards served from memory.
func TestResolveAddressReadsChainOnce(t *testing.T) {
	addr := "0x172370d5Cd63279eFa6d502DAB29171933a610AF"
	reader := &fakeMetadataReader{
		symbols:  map[string]string{strings.ToLower(addr): "CRV"},
		decimals: map[string]uint8{strings.ToLower(addr): 18},
	}
	repo := newMemoryRepo()
	r := NewRegistry(reader, repo)

	td, err := r.ResolveAddress(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, "CRV", td.Symbol)
	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, 1, repo.saves)

	// cached now, both by address and by symbol
	_, err = r.ResolveAddress(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	td, err = r.Resolve(context.Background(), "CRV")
	require.NoError(t, err)
	assert.Equal(t, uint8(18), td.Decimals)
}

// TestResolveAddressRejectsGarbage validates the address format up front.
func TestResolveAddressRejectsGarbage(t *testing.T) {
	r := NewRegistry(&fakeMetadataReader{}, nil)
	_, err := r.ResolveAddress(context.Background(), "not-an-address")
	assert.Error(t, err)
}
