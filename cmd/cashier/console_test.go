package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"partsdesk/internal/httpapi"
	"partsdesk/internal/pos"
	"partsdesk/internal/posclient"
	"partsdesk/internal/service"
	"partsdesk/internal/store/memory"
)

func runScript(t *testing.T, script ...string) string {
	t.Helper()
	return runScriptAs(t, "cashier", "cashier123", script...)
}

func runScriptAs(t *testing.T, username string, password string, script ...string) string {
	t.Helper()
	repo := memory.NewSeeded(zap.NewNop())
	svc := service.New(repo, nil, 0, 5, zap.NewNop())
	auth := httpapi.NewAuthManager("console-test-secret", time.Hour, repo, nil)
	srv := httptest.NewServer(httpapi.New(svc, auth, "*", nil).Handler())
	t.Cleanup(srv.Close)

	client := posclient.New(srv.URL)
	_, err := client.Login(context.Background(), username, password)
	require.NoError(t, err)

	var out bytes.Buffer
	c := newConsole(client, username, &out, nil)
	err = c.Run(context.Background(), strings.NewReader(strings.Join(script, "\n")+"\n"))
	c.Close()
	require.NoError(t, err)
	return out.String()
}

func TestConsoleReserveThenProcess(t *testing.T) {
	out := runScript(t,
		"search spark",
		"add 1",
		"inc 1",
		"partsman",
		"partsman 1",
		"reserve",
		"history reserved",
		"process 1",
		"stats",
	)

	assert.Contains(t, out, "Spark Plug")
	assert.Contains(t, out, "subtotal 90.00")
	assert.Contains(t, out, "partsman Rudi")
	assert.Contains(t, out, "INV-000001 reserved total 90.00")
	assert.Contains(t, out, "INV-000001 completed")
	assert.NotContains(t, out, "! ")
}

func TestConsoleEditReservedTransaction(t *testing.T) {
	out := runScript(t,
		"search air filter",
		"add 1",
		"reserve",
		"history",
		"load 1",
		"inc 1",
		"discount 0.5",
		"pay",
	)

	assert.Contains(t, out, "editing INV-000001")
	assert.Contains(t, out, "discount 50%")
	assert.Contains(t, out, "INV-000001 completed total 52.00")
}

func TestConsoleReportsErrorsAndContinues(t *testing.T) {
	out := runScript(t,
		"reserve",
		"inc 3",
		"fly",
		"discount -1",
		"search",
		"history",
		"quit",
		"search never-reached",
	)

	assert.Contains(t, out, "! "+pos.ErrEmptyCart.Error())
	assert.Contains(t, out, "! no entry 3 (have 0)")
	assert.Contains(t, out, `! unknown command "fly"`)
	assert.Contains(t, out, "! "+pos.ErrInvalidDiscount.Error())
	assert.Contains(t, out, "10 found")
	assert.NotContains(t, out, "never-reached")
}

func TestMoneyFormatsCents(t *testing.T) {
	assert.Equal(t, "0.05", money(5))
	assert.Equal(t, "45.00", money(4500))
	assert.Equal(t, "-1.20", money(-120))
}

func TestConsoleCancelReleasesEditedTransaction(t *testing.T) {
	out := runScript(t,
		"search spark",
		"add 1",
		"partsman 1",
		"reserve",
		"history",
		"load 1",
		"cancel 1",
		"totals",
		"search air filter",
		"add 1",
		"reserve",
	)

	assert.Contains(t, out, "editing INV-000001")
	assert.Contains(t, out, "partsman Rudi Hartono")
	assert.NotContains(t, out, "partsman rudi\n")
	assert.Contains(t, out, "INV-000001 cancelled")
	assert.Contains(t, out, "cart is empty")
	assert.Contains(t, out, "INV-000002 reserved total 52.00")
	assert.NotContains(t, out, "! ")
}

func TestConsoleAdminDeletesProduct(t *testing.T) {
	out := runScriptAs(t, "admin", "admin123",
		"search headlamp",
		"delete 1",
		"search headlamp",
		"dashboard",
	)

	assert.Contains(t, out, "deleted Headlamp Bulb H4")
	assert.Contains(t, out, "0 found")
	assert.Contains(t, out, "in stock 8  low 2")
	assert.NotContains(t, out, "! ")
}

func TestConsoleCashierCannotDeleteProducts(t *testing.T) {
	out := runScript(t,
		"search headlamp",
		"delete 1",
		"dashboard",
	)

	assert.Equal(t, 2, strings.Count(out, "! transaction service"))
	assert.NotContains(t, out, "deleted ")
}
