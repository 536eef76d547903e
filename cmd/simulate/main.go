// Package main runs a campaign file through the draw pipeline offline and
// compares the observed odds and margin with the configured ones.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/logger"
	"github.com/shopspring/decimal"

	"lootfan/internal/apperrors"
	"lootfan/internal/catalogfile"
	"lootfan/internal/services"
	"lootfan/internal/store/memory"
)

const simulatedFan = "simulated-fan"

func main() {
	var (
		path    string
		draws   int
		seed    uint64
		feeRate float64
		bonus   float64
		logPath string
	)
	flag.StringVar(&path, "file", "", "campaign YAML file (required)")
	flag.IntVar(&draws, "draws", 10000, "number of paid draws")
	flag.Uint64Var(&seed, "seed", 1, "random seed for reproducibility")
	flag.Float64Var(&feeRate, "fee", 0.10, "platform fee rate when the file sets none")
	flag.Float64Var(&bonus, "bonus", 0.20, "bonus spin probability for MACHINE campaigns")
	flag.StringVar(&logPath, "log", "", "write the service log to this file instead of stderr")
	flag.Parse()

	if path == "" || draws <= 0 {
		flag.Usage()
		os.Exit(2)
	}
	var logFile io.Writer = os.Stderr
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logFile = f
	}
	defer logger.Init("lootfan-simulate", false, false, logFile).Close()
	if err := run(context.Background(), path, draws, seed, feeRate, bonus); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, draws int, seed uint64, feeRate, bonus float64) error {
	f, err := catalogfile.Load(path)
	if err != nil {
		return err
	}
	campaign, prizes := f.Campaign(decimal.NewFromFloat(feeRate))
	campaign.IsActive = true

	st := memory.New()
	if err := st.SaveCampaign(ctx, campaign, prizes); err != nil {
		return err
	}
	service := services.NewLootboxService(st, services.NewSimulatedProcessor(decimal.Zero),
		services.NewSeededRNG(seed), services.Options{BonusProbability: bonus})

	if _, err := service.PurchaseCredits(ctx, simulatedFan, campaign.ID, draws, campaign.PricePerSpin, ""); err != nil {
		return fmt.Errorf("buy credits: %w", err)
	}

	performed, freeSpins := 0, 0
draw:
	for {
		res, err := service.Draw(ctx, simulatedFan, campaign.ID, "")
		if err != nil {
			switch apperrors.CodeOf(err) {
			case apperrors.CodeInsufficientCredit:
			case apperrors.CodeNoEligiblePrizes:
				fmt.Printf("Catalog sold out after %d draws\n", performed)
			default:
				return err
			}
			break draw
		}
		if res.FreeSpinUsed {
			freeSpins++
		} else {
			performed++
		}
	}

	snap, err := service.GetFinancialSnapshot(ctx, campaign.ID)
	if err != nil {
		return err
	}
	perf, err := service.GetRealizedPerformance(ctx, campaign.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Campaign %s (%s), %d paid draws, %d free spins, seed %d\n\n",
		campaign.ID, campaign.Animation, performed, freeSpins, seed)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIZE\tCONFIGURED %\tOBSERVED %\tWINS\tREALIZED COST")
	configured := make(map[string]float64, len(prizes))
	for _, p := range prizes {
		configured[p.ID] = p.Probability
	}
	for _, s := range perf.PerPrize {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%d\t%s\n", s.PrizeName, configured[s.PrizeID], s.SharePct, s.Wins, s.RealizedCost.StringFixed(2))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nExpected profit per spin: %s (margin %s%%, healthy %t)\n",
		snap.ExpectedProfit.StringFixed(2), snap.MarginPct.StringFixed(2), snap.Healthy)
	if snap.Suggestion != nil {
		fmt.Printf("Suggestion: lower %s from %.2f%% to at most %.2f%%\n",
			snap.Suggestion.PrizeName, snap.Suggestion.CurrentProbability, snap.Suggestion.MaxAllowedProbability)
	}
	fmt.Printf("Realized: revenue %s, cost %s, fees %s, net %s (ROI %s%%)\n",
		perf.TotalRevenue.StringFixed(2), perf.TotalRealizedCost.StringFixed(2), perf.PlatformFees.StringFixed(2),
		perf.NetProfitRealized.StringFixed(2), perf.ROIMargin.StringFixed(2))
	return nil
}
