package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"shelfcheck/config"
	"shelfcheck/internal/adapter/embedding"
	"shelfcheck/internal/adapter/memstore"
	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
	"shelfcheck/internal/usecase"
)

// fixture is a labelled matching set. Expected is the catalog name the query
// should resolve to, or empty when the product is not in the catalog.
type fixture struct {
	Catalog []domain.CatalogRow `json:"catalog"`
	Queries []struct {
		Name     string `json:"name"`
		StoreID  string `json:"store_id"`
		Expected string `json:"expected"`
	} `json:"queries"`
}

const builtinFixture = `{
  "catalog": [
    {"name": "LECHE LALA 1 LITRO", "price": 25.50, "store_id": "810"},
    {"name": "LECHE ALPURA DESLACTOSADA 1 LITRO", "price": 27.00, "store_id": "810"},
    {"name": "PAN BIMBO BLANCO GRANDE", "price": 48.00, "store_id": "810"},
    {"name": "COCA COLA 600 ML", "price": 18.00, "store_id": "810"},
    {"name": "COCA COLA 2 LITROS", "price": 38.00, "store_id": "810"},
    {"name": "HUEVO SAN JUAN 12 PIEZAS", "price": 42.00, "store_id": "810"},
    {"name": "ARROZ VERDE VALLE 1 KG", "price": 32.50, "store_id": "810"},
    {"name": "ACEITE NUTRIOLI 850 ML", "price": 45.00, "store_id": "810"},
    {"name": "FRIJOL ISADORA REFRITO 430 GR", "price": 21.00, "store_id": "810"},
    {"name": "ATUN DOLORES EN AGUA 140 GR", "price": 24.00, "store_id": "810"}
  ],
  "queries": [
    {"name": "LECHE LALA 1L", "store_id": "810", "expected": "LECHE LALA 1 LITRO"},
    {"name": "leche alpura deslact 1lt", "store_id": "810", "expected": "LECHE ALPURA DESLACTOSADA 1 LITRO"},
    {"name": "PAN BIMBO GDE", "store_id": "810", "expected": "PAN BIMBO BLANCO GRANDE"},
    {"name": "COCA-COLA 600ML", "store_id": "810", "expected": "COCA COLA 600 ML"},
    {"name": "COCA COLA 2LTS", "store_id": "810", "expected": "COCA COLA 2 LITROS"},
    {"name": "HUEVO SAN JUAN 12PZ", "store_id": "810", "expected": "HUEVO SAN JUAN 12 PIEZAS"},
    {"name": "ARROZ VERDE VALLE 1KG", "store_id": "810", "expected": "ARROZ VERDE VALLE 1 KG"},
    {"name": "ACEITE NUTRIOLI 850ML", "store_id": "810", "expected": "ACEITE NUTRIOLI 850 ML"},
    {"name": "FRIJOLES ISADORA 430G", "store_id": "810", "expected": "FRIJOL ISADORA REFRITO 430 GR"},
    {"name": "ATUN DOLORES AGUA 140G", "store_id": "810", "expected": "ATUN DOLORES EN AGUA 140 GR"},
    {"name": "DETERGENTE ARIEL 3KG", "store_id": "810", "expected": ""},
    {"name": "JABON ZOTE ROSA", "store_id": "810", "expected": ""},
    {"name": "PAPEL HIGIENICO PETALO 4 ROLLOS", "store_id": "810", "expected": ""},
    {"name": "LECHE LALA 1 LITRO", "store_id": "900", "expected": ""}
  ]
}`

type sweepRow struct {
	threshold float64
	matched   int
	correct   int
	wrong     int
	precision float64
	recall    float64
}

func main() {
	fixturePath := flag.String("fixture", "", "labelled fixture JSON (default: built-in grocery set)")
	dimension := flag.Int("dim", embedding.DefaultNGramDimension, "n-gram embedding dimension")
	steps := flag.Int("steps", 20, "number of threshold steps between 0 and 1")
	flag.Parse()

	fx, err := loadFixture(*fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading fixture: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	embedder := embedding.NewNGramEmbedder(*dimension)
	catalog := memstore.NewMemoryStore()
	index := memstore.NewVectorIndex(embedder.Dimension())
	indexer := usecase.NewIndexUseCase(catalog, index, embedder, nil, 0)

	report, err := indexer.IndexCatalog(ctx, fx.Catalog, "fixture")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Indexing error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("THRESHOLD SWEEP")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Catalog entries: %d (%d failed)\n", report.Indexed, report.Failed)
	fmt.Printf("Queries:         %d\n", len(fx.Queries))
	fmt.Printf("Model:           %s (dim %d)\n", embedder.ModelName(), embedder.Dimension())
	fmt.Println()

	rows, ok := sweep(ctx, fx, embedder, index, catalog, *steps)

	fmt.Printf("%-10s %8s %8s %8s %10s %8s\n", "THRESHOLD", "MATCHED", "CORRECT", "WRONG", "PRECISION", "RECALL")
	fmt.Println(strings.Repeat("-", 70))
	best := rows[0]
	for _, r := range rows {
		fmt.Printf("%-10.2f %8d %8d %8d %10.3f %8.3f\n", r.threshold, r.matched, r.correct, r.wrong, r.precision, r.recall)
		if f1(r) > f1(best) {
			best = r
		}
	}
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Best F1 at threshold %.2f (precision %.3f, recall %.3f)\n", best.threshold, best.precision, best.recall)

	if !ok {
		fmt.Println("Monotonicity: VIOLATED - a higher threshold matched an item a lower one did not")
		os.Exit(1)
	}
	fmt.Println("Monotonicity: OK")
}

func loadFixture(path string) (*fixture, error) {
	data := []byte(builtinFixture)
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, err
	}
	return &fx, nil
}

// sweep matches every query at each threshold. The second result reports
// whether the matched set only ever shrank as the threshold grew.
func sweep(ctx context.Context, fx *fixture, embedder port.Embedder, index port.VectorIndex, catalog port.CatalogStore, steps int) ([]sweepRow, bool) {
	if steps < 1 {
		steps = 1
	}
	matcher := usecase.NewMatcher(embedder, index, catalog, usecase.MatcherOptions{TopK: config.DefaultConfig().EffectiveTopK()})

	positives := 0
	for _, q := range fx.Queries {
		if q.Expected != "" {
			positives++
		}
	}

	monotonic := true
	var prev map[int]bool
	rows := make([]sweepRow, 0, steps+1)
	for s := 0; s <= steps; s++ {
		th := float64(s) / float64(steps)
		row := sweepRow{threshold: th}
		cur := make(map[int]bool)

		for i, q := range fx.Queries {
			res := matcher.Match(ctx, domain.ExtractedItem{RawName: q.Name}, q.StoreID, th)
			if res.Decision != domain.Matched {
				continue
			}
			cur[i] = true
			row.matched++
			if res.MatchedEntry.CanonicalName == q.Expected {
				row.correct++
			} else {
				row.wrong++
			}
		}

		if row.matched > 0 {
			row.precision = float64(row.correct) / float64(row.matched)
		}
		if positives > 0 {
			row.recall = float64(row.correct) / float64(positives)
		}
		for i := range cur {
			if prev != nil && !prev[i] {
				monotonic = false
			}
		}
		prev = cur
		rows = append(rows, row)
	}
	return rows, monotonic
}

func f1(r sweepRow) float64 {
	if r.precision+r.recall == 0 {
		return 0
	}
	return 2 * r.precision * r.recall / (r.precision + r.recall)
}
