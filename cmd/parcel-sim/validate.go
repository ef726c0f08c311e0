package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/parcel-positioning/core"
	"github.com/signalsfoundry/parcel-positioning/internal/scenario"
	"github.com/signalsfoundry/parcel-positioning/model"
)

var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml|boundary.geojson>...",
	Short: "Check scenario and boundary files without running them",
	Long: "Parses each scenario (or GeoJSON boundary file), builds the boundary geometry around its " +
		"reference coordinate and prints what a replay would work with.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), args)
	},
}

func init() { rootCmd.AddCommand(validateCmd) }

func runValidate(out io.Writer, paths []string) error {
	var bad int
	for _, path := range paths {
		if err := validateFile(out, path); err != nil {
			bad++
			fmt.Fprintf(out, "INVALID %s: %v\n", path, err)
		}
	}
	if bad > 0 {
		return eris.Errorf("%d of %d files are invalid", bad, len(paths))
	}
	return nil
}

func validateFile(out io.Writer, path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		set, err := scenario.LoadGeoJSONFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "ok %s: %s\n", path, describeBoundary(set))
		return nil
	default:
		sc, err := scenario.LoadFile(path)
		if err != nil {
			return err
		}
		boundary := sc.Boundary
		if len(boundary) == 0 {
			for _, s := range sc.Steps {
				if s.Kind == scenario.StepSubmit {
					boundary = s.Boundary
					break
				}
			}
		}
		fmt.Fprintf(out, "ok %s: %q, %d steps over %s; %s\n",
			path, sc.Name, len(sc.Steps), sc.Duration, describeBoundary(boundary))
		return nil
	}
}

func describeBoundary(set model.BoundarySet) string {
	opened := make(model.BoundarySet, 0, len(set))
	for _, r := range set {
		opened = append(opened, r.Open())
	}
	set = opened.Usable()
	ref, ok := core.ReferenceCoordinate(set)
	if !ok {
		return fmt.Sprintf("%d rings, no usable subject", len(set))
	}
	frag := core.BuildFragment(set, ref, 0)
	w, l := frag.Extent(core.RoleSubject)
	return fmt.Sprintf("%d rings, %d segments, subject %.1f x %.1f m around (%.6f, %.6f)",
		len(set), len(frag.Segments), w, l, ref.Latitude, ref.Longitude)
}
