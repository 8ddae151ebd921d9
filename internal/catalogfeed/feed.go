// Package catalogfeed reads product catalogs from JSON feed files.
package catalogfeed

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// InvalidProductError reports a feed entry that cannot enter the catalog.
type InvalidProductError struct {
	Index  int
	ID     string
	Reason string
}

func (e *InvalidProductError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("product #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("product #%d (%s): %s", e.Index, e.ID, e.Reason)
}

// Load reads a feed file. Files ending in .gz are decompressed.
func Load(path string) ([]product.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog feed")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip reader")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	products, err := Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return products, nil
}

// Decode parses a JSON array of products. Unknown fields are ignored and
// an "images" array is accepted in place of the "image" object.
func Decode(r io.Reader) ([]product.Product, error) {
	d := jx.Decode(r, 4096)

	var (
		products []product.Product
		seen     = map[string]bool{}
	)
	err := d.Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return err
		}
		idx := len(products)
		switch {
		case p.ID == "":
			return &InvalidProductError{Index: idx, Reason: "missing id"}
		case p.Name == "":
			return &InvalidProductError{Index: idx, ID: p.ID, Reason: "missing name"}
		case p.Price.IsNegative():
			return &InvalidProductError{Index: idx, ID: p.ID, Reason: "negative price"}
		case p.Stock < 0:
			return &InvalidProductError{Index: idx, ID: p.ID, Reason: "negative stock"}
		case seen[p.ID]:
			return &InvalidProductError{Index: idx, ID: p.ID, Reason: "duplicate id"}
		}
		seen[p.ID] = true
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "stock":
			p.Stock, err = d.Int()
		case "image":
			p.Image, err = decodeImage(d)
		case "images":
			err = d.Arr(func(d *jx.Decoder) error {
				url, err := d.Str()
				if err != nil {
					return err
				}
				if p.Image.Thumbnail == "" {
					p.Image = product.Image{Thumbnail: url, Mobile: url, Tablet: url, Desktop: url}
				}
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return p, err
}

func decodeImage(d *jx.Decoder) (product.Image, error) {
	var img product.Image
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "thumbnail":
			img.Thumbnail, err = d.Str()
		case "mobile":
			img.Mobile, err = d.Str()
		case "tablet":
			img.Tablet, err = d.Str()
		case "desktop":
			img.Desktop, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return img, err
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	}
}
