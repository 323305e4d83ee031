package main

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vision-cli/internal/classifier"
	"github.com/sells-group/vision-cli/internal/vision"
)

var (
	extractMock       bool
	extractItemID     string
	extractDomainPack string
	extractEnrich     bool
	extractFacts      bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>...",
	Short: "Classify and enrich local images and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractMock {
			cfg.Vision.Primary = vision.ProviderMock
			cfg.Vision.Fallback = vision.ProviderMock
		}
		if err := cfg.Validate("extract"); err != nil {
			return err
		}

		images, err := loadImages(args)
		if err != nil {
			return err
		}

		svc, err := classifier.Build(cfg)
		if err != nil {
			return err
		}

		itemID := extractItemID
		if itemID == "" {
			itemID = filepath.Base(args[0])
		}
		res, err := svc.Classify(cmd.Context(), classifier.Request{
			ItemID:       itemID,
			Images:       images,
			DomainPackID: extractDomainPack,
			Enrich:       extractEnrich,
			IncludeFacts: extractFacts,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func loadImages(paths []string) ([]vision.Image, error) {
	images := make([]vision.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read image %s", p)
		}
		images = append(images, vision.Image{Data: data, MIMEType: http.DetectContentType(data)})
	}
	return images, nil
}

func init() {
	extractCmd.Flags().BoolVar(&extractMock, "mock", false, "use the offline mock provider for primary and fallback")
	extractCmd.Flags().StringVar(&extractItemID, "item-id", "", "item id (default: first file name)")
	extractCmd.Flags().StringVar(&extractDomainPack, "domain-pack", "", "domain pack id (default from config)")
	extractCmd.Flags().BoolVar(&extractEnrich, "enrich", true, "resolve brand, model, color and material")
	extractCmd.Flags().BoolVar(&extractFacts, "facts", false, "include the extracted visual facts")
	rootCmd.AddCommand(extractCmd)
}
