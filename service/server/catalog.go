package server

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/itiky/drop-engine/model"
)

type (
	// CatalogItem is an item the sandbox can spawn, mint or reward.
	CatalogItem struct {
		ItemId   model.ItemId `json:"item_id"`
		Title    string       `json:"title"`
		ImageUrl string       `json:"image_url"`
		// Relative spawn / reward probability
		Weight int `json:"weight"`
		// Max quantity per drop
		MaxQty int64 `json:"max_qty"`
	}

	// Catalog is the item list of the sandbox economy.
	Catalog struct {
		ChestItemId model.ItemId  `json:"chest_item_id"`
		Items       []CatalogItem `json:"items"`
	}
)

var catalogTitles = []string{
	"Copper Coin", "Silver Coin", "Gold Coin", "Ruby", "Sapphire", "Emerald",
	"Old Scroll", "Feather", "Lucky Clover", "Moon Stone", "Star Shard", "Acorn",
}

// Validate checks the catalogue shape.
func (c Catalog) Validate() error {
	if len(c.Items) == 0 {
		return fmt.Errorf("%s: empty", "items")
	}

	ids := make(map[model.ItemId]bool, len(c.Items))
	for i, item := range c.Items {
		if item.ItemId <= 0 {
			return fmt.Errorf("items[%d]: %s: must be GT 0", i, "itemId")
		}
		if ids[item.ItemId] {
			return fmt.Errorf("items[%d]: %s: duplicated: %d", i, "itemId", item.ItemId)
		}
		if item.Weight < 0 {
			return fmt.Errorf("items[%d]: %s: must be GTE 0", i, "weight")
		}
		if item.MaxQty < 1 {
			return fmt.Errorf("items[%d]: %s: must be GTE 1", i, "maxQty")
		}
		ids[item.ItemId] = true
	}
	if c.ChestItemId > 0 && !ids[c.ChestItemId] {
		return fmt.Errorf("%s: not in items: %d", "chestItemId", c.ChestItemId)
	}

	return nil
}

// Item looks an item up by id.
func (c Catalog) Item(id model.ItemId) (CatalogItem, bool) {
	for _, item := range c.Items {
		if item.ItemId == id {
			return item, true
		}
	}

	return CatalogItem{}, false
}

// Pick returns a weighted random item; the chest is excluded when withChest is false.
func (c Catalog) Pick(rnd *rand.Rand, withChest bool) (CatalogItem, bool) {
	total := 0
	for _, item := range c.Items {
		if !withChest && item.ItemId == c.ChestItemId {
			continue
		}
		total += item.Weight
	}
	if total == 0 {
		return CatalogItem{}, false
	}

	n := rnd.Intn(total)
	for _, item := range c.Items {
		if !withChest && item.ItemId == c.ChestItemId {
			continue
		}
		if n < item.Weight {
			return item, true
		}
		n -= item.Weight
	}

	return CatalogItem{}, false
}

// GenerateCatalog builds a random catalogue of size items; item 1 is the chest.
func GenerateCatalog(size int, rnd *rand.Rand) (Catalog, error) {
	if size < 2 {
		return Catalog{}, fmt.Errorf("%s: must be GTE 2", "size")
	}

	catalog := Catalog{
		ChestItemId: 1,
		Items: []CatalogItem{
			{ItemId: 1, Title: "Chest", ImageUrl: "/img/items/chest.png", Weight: 5, MaxQty: 1},
		},
	}
	for i := 1; i < size; i++ {
		title := catalogTitles[(i-1)%len(catalogTitles)]
		if i > len(catalogTitles) {
			title = fmt.Sprintf("%s #%d", title, i)
		}

		id := model.ItemId(i + 1)
		catalog.Items = append(catalog.Items, CatalogItem{
			ItemId:   id,
			Title:    title,
			ImageUrl: fmt.Sprintf("/img/items/%d.png", id),
			Weight:   rnd.Intn(20) + 1,
			MaxQty:   int64(rnd.Intn(3) + 1),
		})
	}

	sort.Slice(catalog.Items, func(i, j int) bool {
		return catalog.Items[i].ItemId < catalog.Items[j].ItemId
	})

	return catalog, nil
}

// GenAndSaveCatalog generates a random catalogue and saves it to file system.
func GenAndSaveCatalog(filePath string, size int, rnd *rand.Rand) error {
	catalog, err := GenerateCatalog(size, rnd)
	if err != nil {
		return err
	}

	raw, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(filePath, raw, 0644); err != nil {
		return fmt.Errorf("write to file (%s): %w", filePath, err)
	}

	return nil
}

// LoadCatalog reads a catalogue file.
func LoadCatalog(filePath string) (Catalog, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading file (%s): %w", filePath, err)
	}

	catalog := Catalog{}
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("JSON unmarshal: %w", err)
	}
	if err := catalog.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("validation: %w", err)
	}

	return catalog, nil
}
