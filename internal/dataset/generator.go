// Package dataset builds the deterministic demo tables that the default
// schema registry describes and publishes them as parquet objects.
package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Customer struct {
	CustomerID int64  `parquet:"customer_id"`
	Name       string `parquet:"name"`
	Segment    string `parquet:"segment"`
	Country    string `parquet:"country"`
}

type Product struct {
	ProductID   int64   `parquet:"product_id"`
	Name        string  `parquet:"name"`
	ProductLine string  `parquet:"product_line"`
	Category    string  `parquet:"category"`
	ListPrice   float64 `parquet:"list_price"`
}

type Order struct {
	OrderID    int64     `parquet:"order_id"`
	CustomerID int64     `parquet:"customer_id"`
	ProductID  int64     `parquet:"product_id"`
	OrderDate  time.Time `parquet:"order_date"`
	Quantity   int64     `parquet:"quantity"`
	UnitPrice  float64   `parquet:"unit_price"`
	Region     string    `parquet:"region"`
}

type Sizes struct {
	Customers int
	Products  int
	Orders    int
}

type Dataset struct {
	Customers []Customer
	Products  []Product
	Orders    []Order
}

var (
	segments     = []string{"Enterprise", "Mid-Market", "SMB"}
	countries    = []string{"US", "CA", "DE", "GB", "FR", "IN", "JP", "AU", "BR", "MX"}
	productLines = []string{"Core", "Pro", "Enterprise"}
	categories   = []string{"Analytics", "Data Ops", "Finance", "Growth", "Security"}
	regions      = []string{"North America", "Europe", "APAC", "LATAM", "EMEA"}
)

// Generator produces the same dataset for the same seed and sizes.
type Generator struct {
	rnd   *rand.Rand
	start time.Time
	days  int
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)),
		start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		days:  731,
	}
}

func (g *Generator) Generate(sizes Sizes) (Dataset, error) {
	if sizes.Customers <= 0 || sizes.Products <= 0 {
		return Dataset{}, fmt.Errorf("customers and products must be > 0")
	}
	if sizes.Orders < 0 {
		return Dataset{}, fmt.Errorf("orders must be >= 0")
	}

	ds := Dataset{
		Customers: make([]Customer, 0, sizes.Customers),
		Products:  make([]Product, 0, sizes.Products),
		Orders:    make([]Order, 0, sizes.Orders),
	}
	for i := 1; i <= sizes.Customers; i++ {
		ds.Customers = append(ds.Customers, Customer{
			CustomerID: int64(i),
			Name:       fmt.Sprintf("Customer %04d", i),
			Segment:    g.pickSegment(),
			Country:    pickOne(g.rnd, countries),
		})
	}
	for i := 1; i <= sizes.Products; i++ {
		line := productLines[(i-1)%len(productLines)]
		ds.Products = append(ds.Products, Product{
			ProductID:   int64(i),
			Name:        fmt.Sprintf("%s %s %02d", line, pickOne(g.rnd, categories), i),
			ProductLine: line,
			Category:    pickOne(g.rnd, categories),
			ListPrice:   g.listPrice(line),
		})
	}
	for i := 1; i <= sizes.Orders; i++ {
		product := ds.Products[g.rnd.Intn(len(ds.Products))]
		ds.Orders = append(ds.Orders, Order{
			OrderID:    int64(i),
			CustomerID: int64(g.rnd.Intn(sizes.Customers) + 1),
			ProductID:  product.ProductID,
			OrderDate:  g.start.AddDate(0, 0, g.rnd.Intn(g.days)),
			Quantity:   int64(g.rnd.Intn(20) + 1),
			UnitPrice:  round2(product.ListPrice * (0.8 + g.rnd.Float64()*0.3)),
			Region:     pickOne(g.rnd, regions),
		})
	}
	return ds, nil
}

func (g *Generator) pickSegment() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 20:
		return segments[0]
	case p < 55:
		return segments[1]
	default:
		return segments[2]
	}
}

func (g *Generator) listPrice(line string) float64 {
	switch line {
	case "Enterprise":
		return round2(900 + g.rnd.Float64()*600)
	case "Pro":
		return round2(200 + g.rnd.Float64()*300)
	default:
		return round2(20 + g.rnd.Float64()*80)
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
