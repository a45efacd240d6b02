package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/massfinder/parish-ingest/internal/model"
	"github.com/massfinder/parish-ingest/internal/store"
)

// updateStringFlags maps flag names to the update field they set.
var updateStringFlags = []struct {
	flag  string
	usage string
	field func(*model.RecordUpdate) **string
}{
	{"region", "region label", func(u *model.RecordUpdate) **string { return &u.RegionLabel }},
	{"country", "country label", func(u *model.RecordUpdate) **string { return &u.CountryLabel }},
	{"street", "street line", func(u *model.RecordUpdate) **string { return &u.Street }},
	{"city", "city", func(u *model.RecordUpdate) **string { return &u.City }},
	{"state", "two-letter state code", func(u *model.RecordUpdate) **string { return &u.State }},
	{"zip", "postal code", func(u *model.RecordUpdate) **string { return &u.PostalCode }},
	{"address", "full address text", func(u *model.RecordUpdate) **string { return &u.Address }},
	{"phone", "phone number", func(u *model.RecordUpdate) **string { return &u.Phone }},
	{"email", "email address", func(u *model.RecordUpdate) **string { return &u.Email }},
	{"website", "website URL", func(u *model.RecordUpdate) **string { return &u.Website }},
	{"schedule", "mass schedule text", func(u *model.RecordUpdate) **string { return &u.Schedule }},
	{"source-url", "source page URL", func(u *model.RecordUpdate) **string { return &u.SourceURL }},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Refresh fields of one stored parish",
	Long:  "Updates the given fields of a stored parish and stamps last_refreshed. Coordinates are set as a pair or cleared together.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("read"); err != nil {
			return err
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return eris.Errorf("update: invalid id %q", args[0])
		}
		upd, err := buildUpdate(cmd)
		if err != nil {
			return err
		}

		return store.With(cmd.Context(), openStore(cfg), func(ctx context.Context, st store.Store) error {
			if err := st.Update(ctx, id, upd); err != nil {
				return err
			}
			rec, err := st.Get(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Updated %d: %s (%s)\n", rec.ID, rec.Name, rec.Organization)
			return nil
		})
	},
}

func init() {
	addUpdateFlags(updateCmd)
	rootCmd.AddCommand(updateCmd)
}

func addUpdateFlags(c *cobra.Command) {
	for _, f := range updateStringFlags {
		c.Flags().String(f.flag, "", f.usage)
	}
	c.Flags().Float64("lat", 0, "latitude (requires --lon)")
	c.Flags().Float64("lon", 0, "longitude (requires --lat)")
	c.Flags().Bool("clear-coords", false, "remove both coordinates")
}

// buildUpdate collects the flags the operator actually set.
func buildUpdate(cmd *cobra.Command) (model.RecordUpdate, error) {
	var upd model.RecordUpdate
	flags := cmd.Flags()
	for _, f := range updateStringFlags {
		if !flags.Changed(f.flag) {
			continue
		}
		v, _ := flags.GetString(f.flag)
		*f.field(&upd) = model.StringPtr(v)
	}

	if flags.Changed("lat") {
		v, _ := flags.GetFloat64("lat")
		upd.Latitude = &v
	}
	if flags.Changed("lon") {
		v, _ := flags.GetFloat64("lon")
		upd.Longitude = &v
	}
	upd.ClearCoordinates, _ = flags.GetBool("clear-coords")
	if upd.ClearCoordinates && (upd.Latitude != nil || upd.Longitude != nil) {
		return upd, eris.New("update: --clear-coords cannot be combined with --lat/--lon")
	}
	if err := upd.Validate(); err != nil {
		return upd, eris.Wrap(err, "update")
	}
	return upd, nil
}
