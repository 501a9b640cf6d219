package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"partsdesk/internal/domain"
	"partsdesk/internal/pos"
)

const helpText = `commands:
  search [text] [status=available|low_in_stock|out_of_stock]
  add <n>            add product n from the last search
  inc <n> | dec <n>  change the count of cart line n
  rm <n>             remove cart line n
  discount <frac>    set the cart discount, e.g. 0.1
  partsman [n|none]  list partsmen, pick one or clear
  totals             show the cart
  reserve | pay      submit the cart
  clear              empty the cart
  history [status] [search]
  load <n>           edit reserved transaction n from history
  process <n> | cancel <n> | return <n>
  stats              show sales statistics
  dashboard          store-wide sales for this month (admin)
  delete <n>         delete product n from the last search (admin)
  quit`

// Remote is everything the console needs from the transaction service.
type Remote interface {
	pos.TransactionStore
	pos.ProductSearcher
	pos.TransactionReader
	pos.PartsmanDirectory
	DeleteProduct(ctx context.Context, id string) (*domain.StatusChangeResponse, error)
	SalesStatistics(ctx context.Context) (*domain.SalesStatistics, error)
}

type console struct {
	out        io.Writer
	logger     *zap.Logger
	remote     Remote
	views      *pos.Views
	reconciler *pos.Reconciler
	session    *pos.Session
	submitter  *pos.Submitter
	machine    *pos.StateMachine
	partsmen   []pos.Partsman
}

// lockedWriter serializes console output with refresh failures reported from
// the reconciler goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func newConsole(remote Remote, cashierID string, w io.Writer, logger *zap.Logger) *console {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := &lockedWriter{w: w}
	views := pos.NewViews()
	reconciler := pos.NewReconciler(remote, remote, views, logger.Named("reconciler"),
		pos.WithFailureHook(func(err error) {
			fmt.Fprintf(out, "! %v\n", err)
		}),
	)
	session := pos.NewSession(cashierID)
	return &console{
		out:        out,
		logger:     logger,
		remote:     remote,
		views:      views,
		reconciler: reconciler,
		session:    session,
		submitter:  pos.NewSubmitter(remote, reconciler, logger.Named("submitter")),
		machine:    pos.NewStateMachine(remote, pos.Notifiers{reconciler, session}, logger.Named("statemachine")),
	}
}

// Close waits for scheduled refreshes to finish.
func (c *console) Close() {
	c.reconciler.Close()
}

// Run reads commands until EOF or quit. Command errors are printed and the
// loop continues; only a read failure ends it with an error.
func (c *console) Run(ctx context.Context, in io.Reader) error {
	if err := c.reconciler.Refresh(ctx, pos.RefreshAll); err != nil {
		fmt.Fprintf(c.out, "! initial load: %v\n", err)
	}

	scanner := bufio.NewScanner(in)
	fmt.Fprint(c.out, "> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			if fields[0] == "quit" || fields[0] == "exit" {
				return nil
			}
			if err := c.exec(ctx, fields[0], fields[1:]); err != nil {
				fmt.Fprintf(c.out, "! %s\n", describe(err))
			}
		}
		fmt.Fprint(c.out, "> ")
	}
	return scanner.Err()
}

func (c *console) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(c.out, helpText)
		return nil
	case "search":
		return c.search(ctx, args)
	case "add":
		return c.add(args)
	case "inc", "dec", "rm":
		return c.editLine(cmd, args)
	case "discount":
		return c.discount(args)
	case "partsman":
		return c.partsman(ctx, args)
	case "totals":
		c.printCart()
		return nil
	case "reserve":
		return c.submit(ctx, pos.ModeReserve)
	case "pay":
		return c.submit(ctx, pos.ModePay)
	case "clear":
		if err := c.session.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "cart cleared")
		return nil
	case "history":
		return c.history(ctx, args)
	case "load":
		return c.load(ctx, args)
	case "process":
		return c.transition(ctx, args, domain.ActionProcess)
	case "cancel":
		return c.transition(ctx, args, domain.ActionCancel)
	case "return":
		return c.transition(ctx, args, domain.ActionReturn)
	case "stats":
		return c.stats(ctx)
	case "dashboard":
		return c.dashboard(ctx)
	case "delete":
		return c.deleteProduct(ctx, args)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func (c *console) search(ctx context.Context, args []string) error {
	q := domain.ProductSearchRequest{Page: 1}
	terms := make([]string, 0, len(args))
	for _, arg := range args {
		if status, ok := strings.CutPrefix(arg, "status="); ok {
			q.Status = domain.ProductStatus(status)
			continue
		}
		terms = append(terms, arg)
	}
	q.Search = strings.Join(terms, " ")
	c.views.SetProductQuery(q)
	if err := c.reconciler.Refresh(ctx, pos.RefreshProducts); err != nil {
		return err
	}
	c.printProducts()
	return nil
}

func (c *console) add(args []string) error {
	products, _ := c.views.Products()
	i, err := lineIndex(args, len(products))
	if err != nil {
		return err
	}
	if err := c.session.AddItem(products[i]); err != nil {
		return err
	}
	c.printCart()
	return nil
}

func (c *console) editLine(cmd string, args []string) error {
	items := c.session.Items()
	i, err := lineIndex(args, len(items))
	if err != nil {
		return err
	}
	switch cmd {
	case "inc":
		err = c.session.IncrementItem(i)
	case "dec":
		err = c.session.DecrementItem(i)
	default:
		err = c.session.RemoveItem(items[i].ProductID)
	}
	if err != nil {
		return err
	}
	c.printCart()
	return nil
}

func (c *console) discount(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: discount <fraction>")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("discount %q: %w", args[0], pos.ErrInvalidDiscount)
	}
	applied, err := c.session.SetDiscount(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "discount %.0f%%\n", applied*100)
	return nil
}

func (c *console) partsman(ctx context.Context, args []string) error {
	if len(args) == 1 && args[0] == "none" {
		if err := c.session.ClearPartsman(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "partsman cleared")
		return nil
	}
	if len(c.partsmen) == 0 || len(args) == 0 {
		if err := c.loadPartsmen(ctx); err != nil {
			return err
		}
	}
	if len(args) == 0 {
		for i, p := range c.partsmen {
			fmt.Fprintf(c.out, "%2d  %s (%s)\n", i+1, p.Name, p.ID)
		}
		return nil
	}
	i, err := lineIndex(args, len(c.partsmen))
	if err != nil {
		return err
	}
	if err := c.session.SelectPartsman(c.partsmen[i]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "partsman %s\n", c.partsmen[i].Name)
	return nil
}

func (c *console) loadPartsmen(ctx context.Context) error {
	partsmen, err := c.remote.Partsmen(ctx)
	if err != nil {
		return err
	}
	c.partsmen = partsmen
	return nil
}

func (c *console) submit(ctx context.Context, mode pos.Mode) error {
	tx, err := c.submitter.Submit(ctx, c.session, mode)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s total %s\n", tx.InvoiceID, tx.Status, money(tx.TotalCents))
	return nil
}

func (c *console) history(ctx context.Context, args []string) error {
	q := domain.TransactionListRequest{Page: 1}
	if len(args) > 0 {
		if status := domain.TransactionStatus(args[0]); status.Valid() {
			q.Status = status
			args = args[1:]
		}
	}
	q.Search = strings.Join(args, " ")
	c.views.SetTransactionQuery(q)
	if err := c.reconciler.Refresh(ctx, pos.RefreshTransactions); err != nil {
		return err
	}
	c.printTransactions()
	return nil
}

func (c *console) load(ctx context.Context, args []string) error {
	tx, err := c.pickTransaction(args)
	if err != nil {
		return err
	}
	if tx.PartsmanID != "" && len(c.partsmen) == 0 {
		if err := c.loadPartsmen(ctx); err != nil {
			return err
		}
	}
	snapshots := make([]pos.StockSnapshot, 0, len(tx.Items))
	for _, item := range tx.Items {
		if snap, ok := c.views.Snapshot(item.ProductID); ok {
			snapshots = append(snapshots, snap)
		}
	}
	if err := c.session.LoadTransaction(tx, snapshots, c.partsmen...); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "editing %s\n", tx.InvoiceID)
	c.printCart()
	return nil
}

func (c *console) transition(ctx context.Context, args []string, action domain.Action) error {
	tx, err := c.pickTransaction(args)
	if err != nil {
		return err
	}
	if err := c.machine.Apply(ctx, &tx, action); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s %s\n", tx.InvoiceID, tx.Status)
	return nil
}

func (c *console) stats(ctx context.Context) error {
	if err := c.reconciler.Refresh(ctx, pos.RefreshStatistics); err != nil {
		return err
	}
	stats, ok := c.views.Statistics()
	if !ok {
		return errors.New("statistics not loaded")
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "period\tsales\tcount\titems")
	for _, row := range []struct {
		name  string
		stats domain.PeriodStats
	}{
		{"today", stats.Today},
		{"yesterday", stats.Yesterday},
		{"this week", stats.ThisWeek},
		{"this month", stats.ThisMonth},
		{"this year", stats.ThisYear},
	} {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", row.name, money(row.stats.TotalCents), row.stats.TransactionCount, row.stats.ItemsSold)
	}
	_ = w.Flush()
	fmt.Fprintf(c.out, "today vs yesterday %+.1f%%\n", stats.ChangeTodayVsYesterday)
	return nil
}

func (c *console) dashboard(ctx context.Context) error {
	stats, err := c.remote.SalesStatistics(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s: sales %s (%+.1f%%)  income %s (%+.1f%%)  transactions %d\n",
		stats.Month, money(stats.TotalSalesCents), stats.Trends.TotalSales,
		money(stats.TotalIncomeCents), stats.Trends.TotalIncome, stats.TransactionCount)
	fmt.Fprintf(c.out, "in stock %d  low %d  inventory value %s\n",
		stats.ActiveProducts, stats.LowStockProducts, money(stats.TotalInventoryValueCents))
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for i, p := range stats.TopSellingProducts {
		fmt.Fprintf(w, "%2d\t%s\t%d sold\t%.1f%%\n", i+1, p.Name, p.TotalSold, p.Percentage)
	}
	_ = w.Flush()
	return nil
}

// deleteProduct removes a product from the last search. The product list is
// refreshed in the background.
func (c *console) deleteProduct(ctx context.Context, args []string) error {
	products, _ := c.views.Products()
	i, err := lineIndex(args, len(products))
	if err != nil {
		return err
	}
	if _, err := c.remote.DeleteProduct(ctx, products[i].ProductID); err != nil {
		return err
	}
	c.reconciler.AfterMutation(pos.Mutation{Kind: pos.ProductDeleted})
	fmt.Fprintf(c.out, "deleted %s\n", products[i].Name)
	return nil
}

func (c *console) pickTransaction(args []string) (domain.Transaction, error) {
	txs, _ := c.views.Transactions()
	i, err := lineIndex(args, len(txs))
	if err != nil {
		return domain.Transaction{}, err
	}
	return txs[i], nil
}

func (c *console) printProducts() {
	products, page := c.views.Products()
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for i, p := range products {
		fmt.Fprintf(w, "%2d\t%s\t%s\t%d left\t%s\n", i+1, p.Name, money(p.PriceCents), p.QuantityRemaining, p.Status)
	}
	_ = w.Flush()
	fmt.Fprintf(c.out, "page %d/%d, %d found\n", page.Page, page.TotalPages, page.Total)
}

func (c *console) printTransactions() {
	txs, page := c.views.Transactions()
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for i, tx := range txs {
		fmt.Fprintf(w, "%2d\t%s\t%s\t%s\t%s\n", i+1, tx.InvoiceID, tx.Status, money(tx.TotalCents), tx.CreatedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
	fmt.Fprintf(c.out, "page %d/%d, %d found\n", page.Page, page.TotalPages, page.Total)
}

func (c *console) printCart() {
	items := c.session.Items()
	if len(items) == 0 {
		fmt.Fprintln(c.out, "cart is empty")
		return
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for i, item := range items {
		fmt.Fprintf(w, "%2d\t%s\tx%d\t%s\n", i+1, item.Name, item.Count, money(item.PriceCents*int64(item.Count)))
	}
	_ = w.Flush()

	totals := c.session.Totals()
	fmt.Fprintf(c.out, "items %d  subtotal %s  discount %s  total %s\n",
		totals.TotalItems, money(totals.SubtotalCents), money(totals.DiscountCents), money(totals.TotalCents))
	if p, ok := c.session.Partsman(); ok {
		fmt.Fprintf(c.out, "partsman %s\n", p.Name)
	}
	if id := c.session.BoundTransactionID(); id != "" {
		fmt.Fprintf(c.out, "editing transaction %s\n", id)
	}
}

// lineIndex parses a 1-based list position into a slice index.
func lineIndex(args []string, n int) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected one list number")
	}
	i, err := strconv.Atoi(args[0])
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("no entry %s (have %d)", args[0], n)
	}
	return i - 1, nil
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// describe turns the core's errors into operator-facing text.
func describe(err error) string {
	switch {
	case errors.Is(err, pos.ErrRemoteStockExceeded):
		return "not enough stock on the server; search again and adjust the cart"
	case errors.Is(err, pos.ErrRemoteIllegalTransition):
		return "the server refused the status change; refresh history"
	case errors.Is(err, pos.ErrTransport):
		return "transaction service unreachable; the cart is unchanged, try again"
	default:
		return err.Error()
	}
}
