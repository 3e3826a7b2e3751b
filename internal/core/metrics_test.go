package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestCalculateEndDateAndDuration(t *testing.T) {
	start := NewDate(2024, 1, 30)
	end := CalculateEndDate(start, 30)
	if end.String() != "2024-02-29" {
		t.Fatalf("expected leap-day end, got %s", end)
	}
	if got := DurationDays(start, end); got != 30 {
		t.Fatalf("expected 30 days, got %d", got)
	}
	if got := DurationDays(Date{}, end); got != 0 {
		t.Fatalf("missing start should give 0, got %d", got)
	}
	if !CalculateEndDate(Date{}, 5).IsZero() {
		t.Fatalf("zero start should give zero end")
	}

	p := Project{StartDate: start, EndDate: end}
	if p.EffectiveDuration() != 30 {
		t.Fatalf("expected derived duration 30, got %d", p.EffectiveDuration())
	}
	p.Duration = 45
	if p.EffectiveDuration() != 45 {
		t.Fatalf("stored duration should win, got %d", p.EffectiveDuration())
	}
}

func TestMarginPercent(t *testing.T) {
	cases := []struct {
		margin, base int64
		want         string
	}{
		{5000, 10000, "50.0"},
		{1, 3, "33.3"},
		{2, 3, "66.7"},
		{1, 8, "12.5"},
		{-5000, 10000, "-50.0"},
		{100, 0, "0"},
		{100, -5, "0"},
		{0, 100, "0.0"},
	}
	for _, tc := range cases {
		got := MarginPercent(Money{Kopecks: tc.margin}, Money{Kopecks: tc.base})
		if got != tc.want {
			t.Errorf("MarginPercent(%d, %d) = %q, want %q", tc.margin, tc.base, got, tc.want)
		}
	}
}

func TestComputeFinancials(t *testing.T) {
	p := Project{ID: "p1", TotalCost: Rubles(100000), Status: StatusShipment}
	expenses := []Expense{
		{ProjectID: "p1", Amount: Rubles(20000)},
		{ProjectID: "p1", Amount: Rubles(5000)},
		{ProjectID: "p2", Amount: Rubles(99999)},
	}
	f := ComputeFinancials(p, expenses)
	if f.TotalExpenses != Rubles(25000) {
		t.Fatalf("expected 25000 spent, got %v", f.TotalExpenses)
	}
	if f.Margin != Rubles(75000) || f.MarginPercent != "75.0" {
		t.Fatalf("unexpected margin %v / %s", f.Margin, f.MarginPercent)
	}
	if f.Progress != 50 || f.StatusLabel != "Отгрузка" {
		t.Fatalf("unexpected status data %d %q", f.Progress, f.StatusLabel)
	}
	if ProjectMargin(p, nil) != p.TotalCost {
		t.Fatalf("margin without expenses should equal total cost")
	}
}

func TestComputeStats(t *testing.T) {
	projects := []Project{
		{ID: "a", TotalCost: Rubles(1000), Status: StatusContract},
		{ID: "b", TotalCost: Rubles(2000), Status: StatusCompleted},
		{ID: "c", TotalCost: Rubles(4000), Status: StatusLaunch, IsRemoved: true},
	}
	clients := []Client{{Name: "x"}, {Name: "y"}}
	expenses := []Expense{
		{ProjectID: "a", Amount: Rubles(100)},
		{ProjectID: "c", Amount: Rubles(200)},
	}
	s := ComputeStats(projects, clients, expenses)
	if s.ActiveProjects != 1 {
		t.Errorf("active: got %d", s.ActiveProjects)
	}
	if s.TotalRevenue != Rubles(3000) {
		t.Errorf("revenue: got %v", s.TotalRevenue)
	}
	if s.TotalExpenses != Rubles(300) {
		t.Errorf("expenses include every project: got %v", s.TotalExpenses)
	}
	if s.ClientsCount != 2 || s.TotalMargin != Rubles(2700) || s.TotalMarginPercent != "90.0" {
		t.Errorf("unexpected stats %+v", s)
	}

	empty := ComputeStats(nil, nil, nil)
	if empty.TotalMarginPercent != "0" {
		t.Errorf("empty dashboard margin percent should be 0, got %q", empty.TotalMarginPercent)
	}
}

func TestAggregateClients(t *testing.T) {
	existing := []Client{
		{ID: "c1", Name: "Бета", ProjectsCount: 9, TotalRevenue: Rubles(1)},
		{ID: "c2", Name: "Альфа"},
		{ID: "c3", Name: "Гамма", ProjectsCount: 3},
	}
	projects := []Project{
		{Client: "Альфа", TotalCost: Rubles(100)},
		{Client: "Дельта", TotalCost: Rubles(50)},
		{Client: "Бета", TotalCost: Rubles(10)},
		{Client: "Альфа", TotalCost: Rubles(200)},
		{Client: "Эпсилон", TotalCost: Rubles(1)},
		{Client: "Гамма", TotalCost: Rubles(500), IsRemoved: true},
	}
	n := 0
	newID := func() string { n++; return fmt.Sprintf("new-%d", n) }

	got := AggregateClients(existing, projects, newID)
	want := []Client{
		{ID: "c1", Name: "Бета", ProjectsCount: 1, TotalRevenue: Rubles(10)},
		{ID: "c2", Name: "Альфа", ProjectsCount: 2, TotalRevenue: Rubles(300)},
		{ID: "c3", Name: "Гамма"},
		{ID: "new-1", Name: "Дельта", ProjectsCount: 1, TotalRevenue: Rubles(50)},
		{ID: "new-2", Name: "Эпсилон", ProjectsCount: 1, TotalRevenue: Rubles(1)},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d clients, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("client %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		0:                "0.0 MB",
		1024 * 1024:      "1.0 MB",
		2621440:          "2.5 MB",
		20 * 1024 * 1024: "20.0 MB",
	}
	for in, want := range cases {
		if got := FormatFileSize(in); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckPDF(t *testing.T) {
	pdf := []byte("%PDF-1.7\n")
	cases := []struct {
		ct   string
		head []byte
		ok   bool
	}{
		{"application/pdf", nil, true},
		{"Application/PDF; charset=binary", nil, true},
		{"", pdf, true},
		{"application/octet-stream", pdf, true},
		{"", []byte("PK\x03\x04"), false},
		{"image/png", pdf, false},
	}
	for _, tc := range cases {
		err := CheckPDF(tc.ct, tc.head)
		if tc.ok && err != nil {
			t.Errorf("%q: expected ok, got %v", tc.ct, err)
		}
		if !tc.ok && !errors.Is(err, ErrNotPDF) {
			t.Errorf("%q: expected ErrNotPDF, got %v", tc.ct, err)
		}
	}
}
