package internal

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FabricRecord is the canonical unit every supplier parser produces.
type FabricRecord struct {
	Collection      string
	ColorNumber     string
	InStock         *bool
	Meterage        *float64
	Price           *decimal.Decimal
	PricePerMeter   *decimal.Decimal
	Category        *int
	Comment         *string
	NextArrivalDate *time.Time
	LastUpdatedAt   time.Time
}

// CatalogFabric is a persisted catalog row.
type CatalogFabric struct {
	ID         int64
	SupplierID int64
	FabricRecord
}

// PriceBand is one row of the price category table.
type PriceBand struct {
	Category int             `json:"category"`
	Price    decimal.Decimal `json:"price"`
}

type ColumnRole string

const (
	RoleCollection      ColumnRole = "collection"
	RoleColorNumber     ColumnRole = "colorNumber"
	RoleInStock         ColumnRole = "inStock"
	RoleMeterage        ColumnRole = "meterage"
	RolePrice           ColumnRole = "price"
	RoleComment         ColumnRole = "comment"
	RoleNextArrivalDate ColumnRole = "nextArrivalDate"
)

// AllRoles lists column roles in the order questions are asked.
var AllRoles = []ColumnRole{
	RoleCollection,
	RoleColorNumber,
	RoleInStock,
	RoleMeterage,
	RolePrice,
	RoleComment,
	RoleNextArrivalDate,
}

// SpecialRules carries flags for one supplier's quirks.
type SpecialRules struct {
	// StockSentinel marks numeric stock values that mean "plenty" rather than meters.
	StockSentinel      float64  `json:"stockSentinel,omitempty"`
	InStockMarkers     []string `json:"inStockMarkers,omitempty"`
	SplitCompound      bool     `json:"splitCompound,omitempty"`
	SectionCollections bool     `json:"sectionCollections,omitempty"`
	DefaultCollection  string   `json:"defaultCollection,omitempty"`
	// MeterageIsStock treats a positive meterage as in stock when the stock column is absent.
	MeterageIsStock bool `json:"meterageIsStock,omitempty"`
}

// ExtractionRuleSet parameterizes extraction for one supplier.
type ExtractionRuleSet struct {
	ColumnMappings map[ColumnRole]int `json:"columnMappings"`
	SkipRows       []int              `json:"skipRows"`
	SkipPatterns   []string           `json:"skipPatterns"`
	HeaderRow      *int               `json:"headerRow"`
	SpecialRules   SpecialRules       `json:"specialRules"`
	// Confirmed is false for rule sets produced by inference and not yet reviewed.
	Confirmed bool      `json:"confirmed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Column returns the mapped index for role, or -1.
func (r *ExtractionRuleSet) Column(role ColumnRole) int {
	if r == nil || r.ColumnMappings == nil {
		return -1
	}
	idx, ok := r.ColumnMappings[role]
	if !ok {
		return -1
	}
	return idx
}

func (r *ExtractionRuleSet) SkipsRow(row int) bool {
	if r == nil {
		return false
	}
	for _, s := range r.SkipRows {
		if s == row {
			return true
		}
	}
	return false
}

type OverrideType string

const (
	OverrideStock OverrideType = "stock"
	OverridePrice OverrideType = "price"
)

// OverrideEntry names one covered row and, optionally, the operator's values for it.
type OverrideEntry struct {
	Collection  string           `json:"collection"`
	ColorNumber string           `json:"colorNumber"`
	InStock     *bool            `json:"inStock,omitempty"`
	Meterage    *float64         `json:"meterage,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
}

// ManualOverride is an operator upload that takes precedence over parsing.
// An override without entries covers every existing row of the supplier.
type ManualOverride struct {
	ID         int64
	SupplierID int64
	Type       OverrideType
	IsActive   bool
	Entries    []OverrideEntry
	CreatedAt  time.Time
}

type SupplierState string

const (
	StatusActive SupplierState = "active"
	StatusError  SupplierState = "error"
)

// SupplierStatus is written once per run.
type SupplierStatus struct {
	Status        SupplierState
	ErrorMessage  *string
	FabricsCount  int
	LastUpdatedAt time.Time
}

type SupplierRow struct {
	ID     int64
	Key    string
	Name   string
	Kind   string
	Status SupplierStatus
	// LastDocument is the archived path of the last document a run parsed.
	LastDocument *string
}

type SourceType string

const (
	SourceHTML     SourceType = "html"
	SourceWorkbook SourceType = "workbook"
	SourceGSheet   SourceType = "gsheet"
	SourceText     SourceType = "text"
	SourcePDF      SourceType = "pdf"
	SourceEmail    SourceType = "email"
	SourceFile     SourceType = "file"
)

// Document is a raw inbound document plus its content-type hint.
type Document struct {
	Name        string
	ContentType string
	Body        []byte
}

// Grid is a two-dimensional table of trimmed cell text.
type Grid [][]string

// Cell never panics; missing cells read as "".
func (g Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return ""
	}
	return g[row][col]
}

// Populated returns the indexes of non-blank cells in row.
func (g Grid) Populated(row int) []int {
	if row < 0 || row >= len(g) {
		return nil
	}
	out := []int{}
	for i, c := range g[row] {
		if strings.TrimSpace(c) != "" {
			out = append(out, i)
		}
	}
	return out
}

// Analysis is the diagnostic output handed to the rule-editing UI.
type Analysis struct {
	SampleRows       [][]string         `json:"sampleRows"`
	SuggestedColumns map[ColumnRole]int `json:"suggestedColumns"`
	HeaderRow        *int               `json:"headerRow,omitempty"`
}

type RunCounts struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Held      int `json:"held"`
	Warnings  int `json:"warnings"`
	Skipped   int `json:"skipped"`
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

// SourceSpec locates a supplier's raw document.
type SourceSpec struct {
	Type              SourceType `toml:"type"`
	URL               string     `toml:"url"`
	Path              string     `toml:"path"`
	Sheet             string     `toml:"sheet"`
	TableIndex        int        `toml:"table_index"`
	SpreadsheetID     string     `toml:"spreadsheet_id"`
	Range             string     `toml:"range"`
	GID               string     `toml:"gid"`
	Sender            string     `toml:"sender"`
	SubjectContains   string     `toml:"subject_contains"`
	AttachmentPattern string     `toml:"attachment_pattern"`
	Encoding          string     `toml:"encoding"`
}

type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunFailed RunStatus = "failed"
)

// RunRecord is one entry of the run journal.
type RunRecord struct {
	ID           string
	SupplierID   int64
	Status       RunStatus
	Counts       RunCounts
	DocumentPath *string
	Error        *string
	StartedAt    time.Time
	Duration     time.Duration
}
