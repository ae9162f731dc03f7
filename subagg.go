package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/catalog"
	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/subagg"
	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/transfer"
)

var (
	platform  = flag.String("platform", "snpp-normal", "CLIMCAPS platform key: "+strings.Join(catalog.Platforms(), ", "))
	year      = flag.Int("year", 0, "year to process")
	doyStart  = flag.Int("doyStart", 1, "first day-of-year to process")
	doyEnd    = flag.Int("doyEnd", 0, "last day-of-year to process (default: last day of the year)")
	outDir    = flag.String("outDir", ".", "top-level output directory; files land in <outDir>/<platform>/<year>/")
	searchURL = flag.String("searchUrl", catalog.DefaultSearchURL, "CMR search API base URL")
	bucket    = flag.String("bucket", "s3://gesdisc-cumulus-prod-protected", "granule store, file://<dir> or s3://<bucket>")
	scratch   = flag.String("scratch", subagg.DefaultScratchDir, "scratch directory for downloaded granules")
	download  = flag.Bool("download", false, "download granules to scratch before loading instead of streaming")
	varsFlag  = flag.String("vars", "", "comma-separated variable list (slash-prefixed for group members); default: GHG research set")
)

// ghgVars is the CO2-focused research variable set: T and CO2 profiles
// with their ancillary fields, plus the microwave, averaging kernel,
// and auxiliary group members used for filtering and diagnostics.
func ghgVars() []string {
	vars := []string{"obs_time_tai93", "lat", "lon", "land_frac", "surf_alt"}

	retrieved := []string{
		"air_temp", "surf_air_temp", "spec_hum", "surf_spec_hum", "h2o_vap_tot",
		"ch4_mmr_midtrop", "surf_temp", "cld_frac", "cld_top_pres", "surf_ir_emis",
	}
	for _, rv := range retrieved {
		vars = append(vars, rv, rv+"_qc", rv+"_err")
	}

	vars = append(vars,
		"air_temp_dof", "h2o_vap_dof", "ch4_dof", "co2_dof",
		"surf_ir_wnum_cnt", "surf_ir_wnum", "num_cld", "num_cld_qc",
		"air_pres", "air_pres_lay", "air_pres_lay_bnds",
	)

	for _, rv := range []string{"mw_air_temp", "mw_surf_temp"} {
		vars = append(vars, "mw/"+rv, "mw/"+rv+"_qc", "mw/"+rv+"_err")
	}

	for _, v := range []string{
		"co2_ave_kern", "co2_func_pres", "co2_func_last_indx",
		"co2_func_indxs", "co2_func_htop", "co2_func_hbot",
	} {
		vars = append(vars, "ave_kern/"+v)
	}

	for _, rv := range []string{
		"co2_vmr", "for_cld_frac_tot", "for_cld_top_pres_tot",
		"for_cld_frac_2lay", "for_cld_top_pres_2lay",
	} {
		vars = append(vars, "aux/"+rv, "aux/"+rv+"_qc", "aux/"+rv+"_err")
	}
	for _, v := range []string{
		"clim_surf_ir_emis", "clim_surf_ir_wnum", "clim_surf_ir_wnum_cnt",
		"cldfrc_tot", "cldfrc_500", "ampl_eta", "fg_air_temp", "fg_surf_temp",
		"fov_weight", "chi2_temp", "chi2_h2o", "chi2_co2", "pbest", "pgood",
		"nbest", "ngood", "qualtemp", "qualsurf",
	} {
		vars = append(vars, "aux/"+v)
	}
	return vars
}

func main() {
	flag.Parse()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *year == 0 {
		logger.Error("The -year flag is required")
		os.Exit(1)
	}
	shortName, err := catalog.ShortName(*platform)
	if err != nil {
		logger.Error("Unknown platform", "err", err)
		os.Exit(1)
	}

	varNames := ghgVars()
	if *varsFlag != "" {
		varNames = strings.Split(*varsFlag, ",")
	}

	lastDoy := time.Date(*year, 12, 31, 0, 0, 0, 0, time.UTC).YearDay()
	if *doyEnd == 0 {
		*doyEnd = lastDoy
	}
	if *doyStart < 1 || *doyEnd > lastDoy || *doyStart > *doyEnd {
		logger.Error("Bad day-of-year range", "doyStart", *doyStart, "doyEnd", *doyEnd, "lastDoy", lastDoy)
		os.Exit(1)
	}

	ctx := context.Background()

	cmrCli, err := catalog.NewClient(logger, *searchURL)
	if err != nil {
		logger.Error("Could not create a CMR catalog client", "err", err)
		os.Exit(1)
	}
	resolver := catalog.NewResolver(logger, cmrCli)

	b, err := transfer.OpenBucket(ctx, *bucket)
	if err != nil {
		logger.Error("Could not open granule bucket", "bucket", *bucket, "err", err)
		os.Exit(1)
	}
	fetcher := transfer.NewFetcher(logger, b)

	runner := subagg.NewRunner(logger, resolver, fetcher)
	runner.LocalDownload = *download
	runner.ScratchDir = *scratch

	dayDir := filepath.Join(*outDir, *platform, strconv.Itoa(*year))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		logger.Error("Could not create output directory", "dir", dayDir, "err", err)
		os.Exit(1)
	}

	start := time.Now()
	var failed int
	for doy := *doyStart; doy <= *doyEnd; doy++ {
		dayStart := time.Now()
		outPath := filepath.Join(dayDir, subagg.OutputName(shortName, *year, doy))
		if err := runner.RunDay(ctx, *year, doy, *platform, varNames, outPath); err != nil {
			logger.Error("Day failed", "year", *year, "doy", doy, "err", err)
			failed++
			continue
		}
		logger.Info("Day done",
			"year", *year, "doy", doy,
			"in", time.Since(dayStart).Round(time.Second),
			"total", time.Since(start).Round(time.Second))
	}
	logger.Info("Run complete",
		"days", *doyEnd-*doyStart+1, "failed", failed,
		"total", time.Since(start).Round(time.Second))
	if failed > 0 {
		os.Exit(1)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s -year <year> [flags]\n\nBuilds daily CLIMCAPS sub-aggregate NetCDF files.\n\n",
			os.Args[0])
		flag.PrintDefaults()
	}
}
