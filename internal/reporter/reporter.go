// Package reporter renders per-account balance reports to the console and
// appends them to a CSV for later inspection.
package reporter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/SergeySdv/backpack-volume-auto/internal/grid"
	"github.com/SergeySdv/backpack-volume-auto/internal/logger"
	"github.com/SergeySdv/backpack-volume-auto/internal/models"
)

const balancesCSV = "logs/balances.csv"

// PrintBalances renders one account's balances as a table on stdout and
// appends the rows to the balances CSV. Zero balances are skipped.
func PrintBalances(account string, balances map[string]models.Balance) {
	assets := make([]string, 0, len(balances))
	for asset, balance := range balances {
		if isZero(balance) {
			continue
		}
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(account)
	t.AppendHeader(table.Row{"Asset", "Available", "Locked", "Staked"})
	for _, asset := range assets {
		b := balances[asset]
		t.AppendRow(table.Row{asset, b.Available, b.Locked, b.Staked})
	}
	if len(assets) == 0 {
		t.AppendRow(table.Row{"-", "0", "0", "0"})
	}
	t.Render()

	appendCSV(account, assets, balances)
}

// PrintGridStatus renders grid bot snapshots as a table on stdout.
func PrintGridStatus(account string, statuses []grid.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(account)
	t.AppendHeader(table.Row{"Symbol", "Running", "Last Price", "Orders", "Position", "Entry", "Take Profit"})
	for _, st := range statuses {
		position, entry, takeProfit := "-", "-", "-"
		if st.Position != nil {
			position = strconv.FormatFloat(st.Position.Size, 'f', 6, 64)
			entry = strconv.FormatFloat(st.Position.EntryPrice, 'f', 4, 64)
			takeProfit = strconv.FormatFloat(st.TakeProfit, 'f', 4, 64)
		}
		t.AppendRow(table.Row{
			st.Symbol, st.Running,
			strconv.FormatFloat(st.LastPrice, 'f', 4, 64),
			st.LiveOrders, position, entry, takeProfit,
		})
	}
	t.Render()
}

func appendCSV(account string, assets []string, balances map[string]models.Balance) {
	if err := os.MkdirAll(filepath.Dir(balancesCSV), 0o755); err != nil {
		logger.S().Warnf("create %s: %v", filepath.Dir(balancesCSV), err)
		return
	}
	f, err := os.OpenFile(balancesCSV, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.S().Warnf("open %s: %v", balancesCSV, err)
		return
	}
	defer f.Close()

	now := time.Now().Format(time.RFC3339)
	for _, asset := range assets {
		b := balances[asset]
		fmt.Fprintf(f, "%s,%s,%s,%s,%s,%s\n", now, account, asset, b.Available, b.Locked, b.Staked)
	}
}

func isZero(b models.Balance) bool {
	for _, v := range []string{b.Available, b.Locked, b.Staked} {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f != 0 {
			return false
		}
	}
	return true
}
