package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/example/storefront-bot/internal/domain"
)

const DefaultCurrency = "USD"

var ErrCatalogNotFound = errors.New("catalog file not found")

// scalar принимает и числовые, и строковые значения без потери точности.
type scalar string

func (s *scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected scalar", n.Line)
	}
	*s = scalar(strings.TrimSpace(n.Value))
	return nil
}

type fileItem struct {
	ID               scalar `yaml:"id"`
	Title            string `yaml:"title"`
	Description      string `yaml:"description"`
	Price            scalar `yaml:"price"`
	Currency         string `yaml:"currency"`
	Cover            string `yaml:"cover"`
	FulfillmentAsset string `yaml:"fulfillmentAsset"`
	DownloadLink     string `yaml:"download_link"`
}

// FileCatalog хранит каталог из файла; после загрузки только чтение.
type FileCatalog struct {
	items []domain.CatalogItem
	byID  map[string]int
}

// Load читает каталог из YAML- или JSON-файла (список позиций).
func Load(path string) (*FileCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*FileCatalog, error) {
	var file []fileItem
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", domain.ErrValidation, err)
	}
	return build(file)
}

func build(file []fileItem) (*FileCatalog, error) {
	c := &FileCatalog{
		items: make([]domain.CatalogItem, 0, len(file)),
		byID:  make(map[string]int, len(file)),
	}
	for i, f := range file {
		item, err := f.toDomain()
		if err != nil {
			return nil, fmt.Errorf("%w: catalog item[%d]: %v", domain.ErrValidation, i, err)
		}
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("%w: catalog item[%d]: duplicate id %q", domain.ErrValidation, i, item.ID)
		}
		c.byID[item.ID] = len(c.items)
		c.items = append(c.items, item)
	}
	return c, nil
}

func (f fileItem) toDomain() (domain.CatalogItem, error) {
	id := string(f.ID)
	if id == "" {
		return domain.CatalogItem{}, errors.New("empty id")
	}
	if strings.Contains(id, "_") {
		// id идёт в данные кнопки после префикса "buy_"
		return domain.CatalogItem{}, fmt.Errorf("id %q must not contain '_'", id)
	}
	price, err := decimal.NewFromString(string(f.Price))
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("price %q: %v", f.Price, err)
	}
	if price.IsNegative() {
		return domain.CatalogItem{}, fmt.Errorf("negative price %s", price)
	}
	asset := strings.TrimSpace(f.FulfillmentAsset)
	if asset == "" {
		asset = strings.TrimSpace(f.DownloadLink)
	}
	if asset == "" {
		return domain.CatalogItem{}, errors.New("empty fulfillment asset")
	}
	currency := strings.ToUpper(strings.TrimSpace(f.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return domain.CatalogItem{
		ID:               id,
		Title:            strings.TrimSpace(f.Title),
		Description:      strings.TrimSpace(f.Description),
		Price:            price,
		Currency:         currency,
		Cover:            strings.TrimSpace(f.Cover),
		FulfillmentAsset: asset,
	}, nil
}

func (c *FileCatalog) Get(id string) (domain.CatalogItem, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.CatalogItem{}, false
	}
	return c.items[i], true
}

// List возвращает позиции в порядке файла.
func (c *FileCatalog) List() []domain.CatalogItem {
	out := make([]domain.CatalogItem, len(c.items))
	copy(out, c.items)
	return out
}

var _ domain.CatalogProvider = (*FileCatalog)(nil)
