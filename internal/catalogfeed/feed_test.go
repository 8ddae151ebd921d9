package catalogfeed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feed = `[
  {
    "id": "A",
    "name": "Cotton Tee",
    "price": 399.50,
    "category": "men",
    "image": {"thumbnail": "a-thumb.jpg", "mobile": "a-m.jpg", "tablet": "a-t.jpg", "desktop": "a-d.jpg"},
    "stock": 10,
    "rating": 4.3,
    "tags": ["casual"]
  },
  {
    "id": "B",
    "name": "Headphones",
    "price": "2999",
    "category": "electronics",
    "images": ["b1.jpg", "b2.jpg"],
    "stock": 0
  }
]`

func TestDecode(t *testing.T) {
	products, err := Decode(strings.NewReader(feed))
	require.NoError(t, err)
	require.Len(t, products, 2)

	a := products[0]
	assert.Equal(t, "A", a.ID)
	assert.Equal(t, "Cotton Tee", a.Name)
	assert.True(t, decimal.RequireFromString("399.5").Equal(a.Price))
	assert.Equal(t, "men", a.Category)
	assert.Equal(t, "a-thumb.jpg", a.Image.Thumbnail)
	assert.Equal(t, "a-d.jpg", a.Image.Desktop)
	assert.Equal(t, 10, a.Stock)

	b := products[1]
	assert.True(t, decimal.NewFromInt(2999).Equal(b.Price))
	assert.Equal(t, "b1.jpg", b.Image.Thumbnail)
	assert.Equal(t, "b1.jpg", b.Image.Desktop)
	assert.Equal(t, 0, b.Stock)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{name: "missing id", input: `[{"name":"x","price":1}]`, reason: "missing id"},
		{name: "missing name", input: `[{"id":"x","price":1}]`, reason: "missing name"},
		{name: "negative price", input: `[{"id":"x","name":"x","price":-1}]`, reason: "negative price"},
		{name: "negative stock", input: `[{"id":"x","name":"x","price":1,"stock":-2}]`, reason: "negative stock"},
		{name: "duplicate", input: `[{"id":"x","name":"x","price":1},{"id":"x","name":"y","price":2}]`, reason: "duplicate id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			var invalid *InvalidProductError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Equal(t, tt.reason, invalid.Reason)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(strings.NewReader(`[{"id": 5}]`))
	require.Error(t, err)

	_, err = Decode(strings.NewReader(`{"id":"x"}`))
	require.Error(t, err)
}

func TestLoad_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(feed))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	products, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, products, 2)
}

func TestLoad_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o600))

	products, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, products, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
