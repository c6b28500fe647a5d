// main.go - Uebersetzungs-CLI
//
// Minimaler Wirt fuer den Uebersetzungsmotor: laedt ein Modell und die
// Vokabulare, liest ein oder mehrere Quelldateien und uebersetzt sie
// nebenlaeufig, ein Translator.Clone() je Worker. Dies ist kein
// Teil des geprueften Kernmotors, nur eine duenne Schicht darueber.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guillaumekln/CTranslate2/config"
	"github.com/guillaumekln/CTranslate2/model"
	"github.com/guillaumekln/CTranslate2/tensor"
	"github.com/guillaumekln/CTranslate2/translator"
	"github.com/guillaumekln/CTranslate2/vocab"
)

var (
	modelDir      string
	computeType   string
	beamSize      int
	numHypotheses int
	configFile    string
)

func main() {
	slog.SetLogLoggerLevel(config.LogLevel())

	root := &cobra.Command{
		Use:   "translate [files...]",
		Short: "translate tokenized source files with a CTranslate2-style model",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTranslate,
	}
	root.Flags().StringVar(&modelDir, "model", "", "model directory (weights + vocabularies)")
	root.Flags().StringVar(&computeType, "compute-type", config.ComputeType(), "default, float, int8, or int16")
	root.Flags().IntVar(&beamSize, "beam-size", 1, "beam width (1 = greedy)")
	root.Flags().IntVar(&numHypotheses, "num-hypotheses", 1, "hypotheses returned per input")
	root.Flags().StringVar(&configFile, "config", "", "optional YAML config file")
	root.MarkFlagRequired("model")

	if err := root.Execute(); err != nil {
		slog.Error("translate failed", "error", err)
		os.Exit(1)
	}
}

func runTranslate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if err := config.LoadFile(configFile); err != nil {
			return err
		}
	}

	device := tensor.Device{Kind: tensor.CPU}
	if strings.EqualFold(config.Device(), "cuda") {
		device = tensor.Device{Kind: tensor.GPU}
	}

	base, err := loadTranslator(modelDir, model.ComputeType(computeType), device)
	if err != nil {
		return fmt.Errorf("translate: loading model: %w", err)
	}

	opts := translator.DefaultOptions()
	opts.BeamSize = beamSize
	opts.NumHypotheses = numHypotheses

	runID := uuid.New()
	slog.Info("translation run starting", "run_id", runID, "files", len(args), "workers", config.InterThreads())

	sem := make(chan struct{}, config.InterThreads())
	group := new(errgroup.Group)
	for _, path := range args {
		path := path
		sem <- struct{}{}
		group.Go(func() error {
			defer func() { <-sem }()
			worker := base.Clone()
			return translateFile(worker, path, opts)
		})
	}
	return group.Wait()
}

func loadTranslator(dir string, computeType model.ComputeType, device tensor.Device) (*translator.Translator, error) {
	weightsFile, err := os.Open(dir + "/model.bin")
	if err != nil {
		return nil, err
	}
	defer weightsFile.Close()

	idx, err := model.Load(weightsFile, device)
	if err != nil {
		return nil, err
	}
	m, err := model.Open(idx, computeType, device, 1024)
	if err != nil {
		return nil, err
	}

	sourceFile, err := os.Open(dir + "/source_vocabulary.txt")
	if err != nil {
		return nil, err
	}
	defer sourceFile.Close()
	source, err := vocab.Load(sourceFile)
	if err != nil {
		return nil, err
	}

	targetFile, err := os.Open(dir + "/target_vocabulary.txt")
	if err != nil {
		return nil, err
	}
	defer targetFile.Close()
	target, err := vocab.Load(targetFile)
	if err != nil {
		return nil, err
	}

	var vmap *vocab.VocabularyMap
	if f, err := os.Open(dir + "/vmap.txt"); err == nil {
		defer f.Close()
		vmap, err = vocab.LoadMap(f, target)
		if err != nil {
			return nil, err
		}
	}

	return translator.New(m, source, target, vmap, device), nil
}

func translateFile(t *translator.Translator, path string, opts translator.Options) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var batch [][]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		batch = append(batch, strings.Fields(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	results, err := t.TranslateBatchWithPrefix(batch, nil, opts)
	if err != nil {
		return err
	}
	for _, r := range results {
		if len(r.Hypotheses) == 0 {
			continue
		}
		fmt.Println(strings.Join(r.Hypotheses[0].Tokens, " "))
	}
	return nil
}
