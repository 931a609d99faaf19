package registry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotdex/internal/domain"
	"spotdex/internal/registry"
)

const tokensJSON = `{
  "WETH": {
    "address": "0x4200000000000000000000000000000000000006",
    "oracleAddress": "0x00000000000000000000000000000000000000e1",
    "tokenDecimal": 18
  },
  "USDC": {
    "address": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
    "oracleAddress": "0x00000000000000000000000000000000000000e2",
    "tokenDecimal": 6
  }
}`

func TestParse(t *testing.T) {
	t.Parallel()

	reg, err := registry.Parse([]byte(tokensJSON))
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"USDC", "WETH"}, reg.Symbols())

	weth, ok := reg.Get("WETH")
	require.True(t, ok)
	assert.Equal(t, uint8(18), weth.Decimals)
	assert.Equal(t, common.HexToAddress("0x4200000000000000000000000000000000000006"), weth.Address)
	assert.Equal(t, common.HexToAddress("0xe1"), weth.Oracle)
}

func TestByAddress_CaseInsensitive(t *testing.T) {
	t.Parallel()

	reg, err := registry.Parse([]byte(tokensJSON))
	require.NoError(t, err)

	lower := common.HexToAddress(strings.ToLower("0x036CbD53842c5426634e7929541eC2318f3dCF7e"))
	tok, ok := reg.ByAddress(lower)
	require.True(t, ok)
	assert.Equal(t, "USDC", tok.Symbol)

	_, ok = reg.ByAddress(common.HexToAddress("0xdead"))
	assert.False(t, ok)
}

func TestLookup_Unknown(t *testing.T) {
	t.Parallel()

	reg, err := registry.Parse([]byte(tokensJSON))
	require.NoError(t, err)

	_, err = reg.Lookup("DOGE")
	assert.ErrorIs(t, err, registry.ErrUnknownToken)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"not json", `{`},
		{"bad address", `{"WETH": {"address": "nope", "oracleAddress": "0x00000000000000000000000000000000000000e1", "tokenDecimal": 18}}`},
		{"bad oracle", `{"WETH": {"address": "0x4200000000000000000000000000000000000006", "oracleAddress": "", "tokenDecimal": 18}}`},
		{"shared address", `{
			"A": {"address": "0x4200000000000000000000000000000000000006", "oracleAddress": "0x00000000000000000000000000000000000000e1", "tokenDecimal": 18},
			"B": {"address": "0x4200000000000000000000000000000000000006", "oracleAddress": "0x00000000000000000000000000000000000000e2", "tokenDecimal": 18}
		}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := registry.Parse([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestNew_DuplicateSymbol(t *testing.T) {
	t.Parallel()

	_, err := registry.New([]domain.Token{
		{Symbol: "WETH", Address: common.HexToAddress("0x1")},
		{Symbol: "WETH", Address: common.HexToAddress("0x2")},
	})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(tokensJSON), 0644))

	reg, err := registry.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	_, err = registry.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestAll_ReturnsCopy(t *testing.T) {
	t.Parallel()

	reg, err := registry.Parse([]byte(tokensJSON))
	require.NoError(t, err)

	all := reg.All()
	delete(all, "WETH")

	_, ok := reg.Get("WETH")
	assert.True(t, ok)
}
