package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fabricsync/internal"
)

var sample = internal.Grid{
	{"ООО «Бархат-Текстиль»"},
	{"Остатки на 01.03.2026"},
	{},
	{"Колекция", "Цвет", "Наличие", "Метраж, м", "Цена, руб"},
	{"Velvet", "12", "V", "85,6", "1 200"},
	{"Velvet", "14", "", "", "1 200"},
}

func TestSuggestFindsHeaderRow(t *testing.T) {
	mapping, header := Suggest(sample, 0)
	require.NotNil(t, header)
	require.Equal(t, 3, *header)
	require.Equal(t, map[internal.ColumnRole]int{
		internal.RoleCollection:  0,
		internal.RoleColorNumber: 1,
		internal.RoleInStock:     2,
		internal.RoleMeterage:    3,
		internal.RolePrice:       4,
	}, mapping)
}

func TestSuggestRespectsMaxRows(t *testing.T) {
	_, header := Suggest(sample, 3)
	require.Nil(t, header)
}

func TestInfer(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rs, err := Infer("barhat", sample, Options{StockSentinel: 100, Now: now})
	require.NoError(t, err)
	require.False(t, rs.Confirmed)
	require.Equal(t, []int{0, 1, 2, 3}, rs.SkipRows)
	require.Equal(t, 3, *rs.HeaderRow)
	require.Equal(t, 100.0, rs.SpecialRules.StockSentinel)
	require.False(t, rs.SpecialRules.SplitCompound)
	require.False(t, rs.SpecialRules.MeterageIsStock)
}

func TestInferCompoundAndMeterageOnly(t *testing.T) {
	grid := internal.Grid{
		{"Наименование", "Остаток"},
		{"Velvet 12", "30"},
	}
	rs, err := Infer("x", grid, Options{})
	require.NoError(t, err)
	require.True(t, rs.SpecialRules.SplitCompound)
	require.True(t, rs.SpecialRules.MeterageIsStock)
}

func TestInferFailsWithoutHeader(t *testing.T) {
	grid := internal.Grid{{"Velvet", "12", "30"}, {"Linen", "04", "12"}}
	_, err := Infer("nohdr", grid, Options{})
	var missing *internal.RuleMissingError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "nohdr", missing.Supplier)

	grid = internal.Grid{{"Цвет", "Метраж"}, {"12", "30"}}
	_, err = Infer("nocoll", grid, Options{})
	require.True(t, errors.As(err, &missing))
}

func TestQuestionsAndApplyAnswers(t *testing.T) {
	rs, err := Infer("barhat", sample, Options{})
	require.NoError(t, err)

	header := 3
	an := internal.Analysis{SampleRows: sample, HeaderRow: &header}
	qs := Questions(rs, an)
	require.Len(t, qs, len(internal.AllRoles)+1)
	require.Equal(t, HeaderRowKey, qs[0].Key)
	require.Equal(t, 3, qs[0].Suggested)

	byKey := map[string]Question{}
	for _, q := range qs {
		byKey[q.Key] = q
	}
	require.Equal(t, 4, byKey["price"].Suggested)
	require.Equal(t, -1, byKey["comment"].Suggested)
	require.Equal(t, "0: Колекция", byKey["collection"].Options[0])

	answers := Answers{}
	for _, q := range qs {
		in := ""
		if q.Key == "price" {
			in = "-"
		}
		v, err := ParseAnswer(q, in)
		require.NoError(t, err)
		answers[q.Key] = v
	}
	_, err = ParseAnswer(byKey["collection"], "-")
	require.Error(t, err)

	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	confirmed, err := ApplyAnswers(rs, answers, now)
	require.NoError(t, err)
	require.True(t, confirmed.Confirmed)
	require.Equal(t, now, confirmed.UpdatedAt)
	require.Equal(t, -1, confirmed.Column(internal.RolePrice))
	require.Equal(t, 4, rs.Column(internal.RolePrice), "input rule set is not mutated")

	_, err = ApplyAnswers(rs, Answers{"meterage": 0}, now)
	require.Error(t, err, "column shared by two roles")
}

func TestParseAnswer(t *testing.T) {
	q := Question{Key: "meterage", Suggested: 3}
	cases := map[string]int{"": 3, "-": -1, "5": 5, " 2: Метраж ": 2}
	for in, want := range cases {
		got, err := ParseAnswer(q, in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseAnswer(q, "abc")
	require.Error(t, err)
}
