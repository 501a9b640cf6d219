package service

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"partsdesk/internal/domain"
	"partsdesk/internal/store"
)

const (
	dailySeriesLength   = 7
	weeklySeriesLength  = 4
	monthlySeriesLength = 12
	topSellingLimit     = 5
)

type period struct {
	from time.Time
	to   time.Time
}

func (p period) contains(t time.Time) bool {
	return !t.Before(p.from) && t.Before(p.to)
}

// Statistics aggregates completed sales over calendar periods in UTC. Weeks
// start on Monday. Cashiers see their own sales, admins see the store.
func (s *Service) Statistics(ctx context.Context) (domain.TransactionStatistics, error) {
	actor, err := requireRole(ctx, domain.RoleCashier, domain.RoleAdmin)
	if err != nil {
		return domain.TransactionStatistics{}, err
	}

	now := s.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	yearStart := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)

	today := period{day, day.AddDate(0, 0, 1)}
	yesterday := period{day.AddDate(0, 0, -1), day}
	thisWeek := period{weekStart, weekStart.AddDate(0, 0, 7)}
	lastWeek := period{weekStart.AddDate(0, 0, -7), weekStart}
	thisMonth := period{monthStart, monthStart.AddDate(0, 1, 0)}
	lastMonth := period{monthStart.AddDate(0, -1, 0), monthStart}
	thisYear := period{yearStart, yearStart.AddDate(1, 0, 0)}
	lastYear := period{yearStart.AddDate(-1, 0, 0), yearStart}

	to := thisYear.to
	if thisWeek.to.After(to) {
		to = thisWeek.to
	}
	txs, err := s.repo.ListTransactionsBetween(ctx, scopeFor(actor), domain.TxStatusCompleted, lastYear.from, to)
	if err != nil {
		return domain.TransactionStatistics{}, err
	}

	stats := domain.TransactionStatistics{
		Today:     aggregate(txs, today),
		Yesterday: aggregate(txs, yesterday),
		ThisWeek:  aggregate(txs, thisWeek),
		LastWeek:  aggregate(txs, lastWeek),
		ThisMonth: aggregate(txs, thisMonth),
		LastMonth: aggregate(txs, lastMonth),
		ThisYear:  aggregate(txs, thisYear),
		LastYear:  aggregate(txs, lastYear),
	}
	stats.ChangeTodayVsYesterday = percentChange(stats.Today.TotalCents, stats.Yesterday.TotalCents)
	stats.ChangeMonthVsLast = percentChange(stats.ThisMonth.TotalCents, stats.LastMonth.TotalCents)
	return stats, nil
}

// SalesStatistics builds the store-wide dashboard for the current UTC month:
// sales and income against last month, stock figures, the daily, weekly and
// monthly sales series and the best selling products. Admin only.
func (s *Service) SalesStatistics(ctx context.Context) (domain.SalesStatistics, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.SalesStatistics{}, err
	}

	now := s.now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	days := make([]period, dailySeriesLength)
	for i := range days {
		from := day.AddDate(0, 0, i-dailySeriesLength+1)
		days[i] = period{from, from.AddDate(0, 0, 1)}
	}
	weeks := make([]period, weeklySeriesLength)
	for i := range weeks {
		from := weekStart.AddDate(0, 0, 7*(i-weeklySeriesLength+1))
		weeks[i] = period{from, from.AddDate(0, 0, 7)}
	}
	months := make([]period, monthlySeriesLength)
	for i := range months {
		from := monthStart.AddDate(0, i-monthlySeriesLength+1, 0)
		months[i] = period{from, from.AddDate(0, 1, 0)}
	}
	thisMonth := months[len(months)-1]
	lastMonth := months[len(months)-2]

	from := minTime(days[0].from, weeks[0].from, months[0].from)
	to := maxTime(days[len(days)-1].to, weeks[len(weeks)-1].to, thisMonth.to)
	txs, err := s.repo.ListTransactionsBetween(ctx, "", domain.TxStatusCompleted, from, to)
	if err != nil {
		return domain.SalesStatistics{}, err
	}
	products, _, err := s.repo.SearchProducts(ctx, store.ProductQuery{})
	if err != nil {
		return domain.SalesStatistics{}, err
	}

	current := revenue(txs, thisMonth)
	previous := revenue(txs, lastMonth)
	stats := domain.SalesStatistics{
		Month:            thisMonth.from.Format("January 2006"),
		TotalSalesCents:  current.gross,
		TotalIncomeCents: current.net,
		TransactionCount: current.count,
		Trends: domain.SalesTrends{
			TotalSales:   percentChange(current.gross, previous.gross),
			TotalIncome:  percentChange(current.net, previous.net),
			Transactions: percentChange(int64(current.count), int64(previous.count)),
		},
		DailySales:         salesSeries(txs, days, func(t time.Time) string { return t.Format(time.DateOnly) }),
		WeeklySales:        salesSeries(txs, weeks, isoWeekLabel),
		MonthlySales:       salesSeries(txs, months, func(t time.Time) string { return t.Format("2006-01") }),
		TopSellingProducts: topSelling(txs, thisMonth, topSellingLimit),
	}
	for _, p := range products {
		if p.QuantityRemaining <= 0 {
			continue
		}
		stats.ActiveProducts++
		if p.Status == domain.ProductStatusLowInStock {
			stats.LowStockProducts++
		}
		stats.TotalInventoryValueCents += p.PriceCents * int64(p.QuantityRemaining)
	}
	return stats, nil
}

type periodRevenue struct {
	gross int64
	net   int64
	count int
}

func revenue(txs []domain.Transaction, p period) periodRevenue {
	var out periodRevenue
	for _, tx := range txs {
		if !p.contains(tx.CreatedAt) {
			continue
		}
		out.gross += tx.SubtotalCents
		out.net += tx.TotalCents
		out.count++
	}
	return out
}

// salesSeries sums net sales per period, oldest first.
func salesSeries(txs []domain.Transaction, periods []period, label func(time.Time) string) []domain.SalesPoint {
	out := make([]domain.SalesPoint, len(periods))
	for i, p := range periods {
		r := revenue(txs, p)
		out[i] = domain.SalesPoint{
			Label:            label(p.from),
			Start:            p.from,
			AmountCents:      r.net,
			TransactionCount: r.count,
		}
	}
	return out
}

func isoWeekLabel(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// topSelling ranks products by units sold in p. Percentage is the share of all
// units sold in p.
func topSelling(txs []domain.Transaction, p period, limit int) []domain.ProductSales {
	byID := map[string]*domain.ProductSales{}
	units := 0
	for _, tx := range txs {
		if !p.contains(tx.CreatedAt) {
			continue
		}
		for _, item := range tx.Items {
			entry, ok := byID[item.ProductID]
			if !ok {
				entry = &domain.ProductSales{ProductID: item.ProductID, Name: item.Name}
				byID[item.ProductID] = entry
			}
			entry.TotalSold += item.Count
			units += item.Count
		}
	}

	out := make([]domain.ProductSales, 0, len(byID))
	for _, entry := range byID {
		if units > 0 {
			entry.Percentage = round2(float64(entry.TotalSold) / float64(units) * 100)
		}
		out = append(out, *entry)
	}
	slices.SortFunc(out, func(a, b domain.ProductSales) int {
		if c := cmp.Compare(b.TotalSold, a.TotalSold); c != 0 {
			return c
		}
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func minTime(first time.Time, rest ...time.Time) time.Time {
	for _, t := range rest {
		if t.Before(first) {
			first = t
		}
	}
	return first
}

func maxTime(first time.Time, rest ...time.Time) time.Time {
	for _, t := range rest {
		if t.After(first) {
			first = t
		}
	}
	return first
}

func aggregate(txs []domain.Transaction, p period) domain.PeriodStats {
	out := domain.PeriodStats{}
	for _, tx := range txs {
		if !p.contains(tx.CreatedAt) {
			continue
		}
		out.TransactionCount++
		out.TotalCents += tx.TotalCents
		out.ItemsSold += tx.ItemCount()
	}
	if out.TransactionCount > 0 {
		out.AvgTransactionValueCents = int64(math.Round(float64(out.TotalCents) / float64(out.TransactionCount)))
		out.AvgItemsPerTransaction = round2(float64(out.ItemsSold) / float64(out.TransactionCount))
	}
	return out
}

// percentChange reports growth from previous to current. Growth from zero is
// shown as 100%.
func percentChange(current int64, previous int64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return round2(float64(current-previous) / float64(previous) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
