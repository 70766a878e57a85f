package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/kilianp07/arbitrage/core/model"
)

// Format names accepted by Write.
const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatTable = "table"
)

// Write dispatches to the writer for format.
func Write(w io.Writer, rec model.Recommendation, format string) error {
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, rec)
	case FormatCSV:
		return WriteCSV(w, rec)
	case FormatTable:
		return WriteTable(w, rec)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes the recommendation to w in JSON format.
func WriteJSON(w io.Writer, rec model.Recommendation) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// WriteCSV writes one row per planned hour.
func WriteCSV(w io.Writer, rec model.Recommendation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"start", "price", "charge_kw", "discharge_kw", "net_kw", "level_kwh"}); err != nil {
		return err
	}
	for _, h := range rec.Hours {
		row := []string{
			h.Start.Format(time.RFC3339),
			formatFloat(h.Price),
			formatFloat(h.ChargeKW),
			formatFloat(h.DischargeKW),
			formatFloat(h.NetPowerKW()),
			formatFloat(h.LevelKWh),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable writes a human readable summary followed by the schedule.
func WriteTable(w io.Writer, rec model.Recommendation) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "status:\t%s\t\n", rec.Status)
	fmt.Fprintf(tw, "horizon:\t%d h\t\n", rec.Horizon)
	fmt.Fprintf(tw, "expected profit:\t%.3f\t\n", rec.ExpectedProfit)
	if len(rec.Hours) > 0 {
		fmt.Fprintln(tw, "\t\t\t\t\t")
		fmt.Fprintln(tw, "start\tprice\tcharge kW\tdischarge kW\tlevel kWh\t")
		for _, h := range rec.Hours {
			fmt.Fprintf(tw, "%s\t%.4f\t%.3f\t%.3f\t%.3f\t\n",
				h.Start.Format("2006-01-02 15:04"), h.Price, h.ChargeKW, h.DischargeKW, h.LevelKWh)
		}
	}
	return tw.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
