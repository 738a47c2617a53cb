package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List stored backups",
	Long: `List the objects stored for the project. With no prefix every object
under "<project>/" is listed; pass "<project>/<target>/" to narrow it down.`,
	Args: cobra.MaximumNArgs(1),
	RunE: listObjects,
}

func init() {
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format: table or json")
}

type objectView struct {
	Key          string    `json:"key"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

func listObjects(cmd *cobra.Command, args []string) error {
	if listFormat != "table" && listFormat != "json" {
		return fmt.Errorf("unknown format %q", listFormat)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	storageSvc, err := newStorage(cfg)
	if err != nil {
		return err
	}

	var prefix string
	if len(args) == 1 {
		prefix = args[0]
	}

	objects, err := storageSvc.List(context.Background(), prefix)
	if err != nil {
		return err
	}

	if listFormat == "json" {
		return writeObjectsJSON(cmd.OutOrStdout(), objects)
	}
	return writeObjectsTable(cmd.OutOrStdout(), objects, time.Now())
}

func writeObjectsJSON(w io.Writer, objects []models.RemoteObject) error {
	views := make([]objectView, 0, len(objects))
	for _, o := range objects {
		views = append(views, objectView{Key: o.Key, SizeBytes: o.SizeBytes, LastModified: o.LastModified.UTC()})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func writeObjectsTable(w io.Writer, objects []models.RemoteObject, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tLAST MODIFIED")
	var total int64
	for _, o := range objects {
		total += o.SizeBytes
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Key, humanize.IBytes(uint64(o.SizeBytes)), humanize.RelTime(o.LastModified, now, "ago", "from now"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d object(s), %s\n", len(objects), humanize.IBytes(uint64(total)))
	return err
}
