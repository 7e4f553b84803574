// Package dataset materializes validated records and their page images into
// a train/validation split consumable by document-understanding trainers.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"skilllab/internal/types"
)

const jpegQuality = 95

// Builder converts the validated-json area into the dataset layout:
// train/ and validation/ directories of JPEG pages with sidecar JSON, each
// listed by an index file.
type Builder struct {
	ValidatedDir string
	OutputDir    string
	TaskName     string
	Split        float64
	Seed         int64
	Log          *zap.Logger
}

// NewBuilder constructs a builder with defaulted split and task name.
func NewBuilder(validatedDir, outputDir string, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Builder{
		ValidatedDir: validatedDir,
		OutputDir:    outputDir,
		TaskName:     "resume_extraction",
		Split:        0.8,
		Seed:         42,
		Log:          log.Named("dataset"),
	}
}

// Sidecar is the per-sample JSON written next to each page image.
type Sidecar struct {
	GroundTruth string `json:"ground_truth"`
	Image       string `json:"image"`
	TaskPrompt  string `json:"task_prompt"`
}

// Stats summarizes one build.
type Stats struct {
	Accepted   int
	Skipped    int
	Train      int
	Validation int
}

// Build loads every validated record, splits the accepted ones, and writes
// images, sidecars, and index files. Rebuilding from the same inputs and
// seed is deterministic.
func (b *Builder) Build() (*Stats, error) {
	docs, skipped, err := b.loadAccepted()
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(b.Seed))
	rng.Shuffle(len(docs), func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })

	// Round so the remainder favors train; a one-document build must not
	// end up with an empty training subset.
	trainCount := int(math.Round(float64(len(docs)) * b.Split))
	stats := &Stats{Accepted: len(docs), Skipped: skipped}

	for i, doc := range docs {
		subset := "train"
		if i >= trainCount {
			subset = "validation"
		}
		if err := b.writeSample(subset, doc); err != nil {
			return nil, err
		}
		if subset == "train" {
			stats.Train++
		} else {
			stats.Validation++
		}
	}

	b.Log.Info("dataset built",
		zap.Int("accepted", stats.Accepted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("train", stats.Train),
		zap.Int("validation", stats.Validation))
	return stats, nil
}

// Recycle appends a single approved document to the training subset without
// rebuilding. Repeat calls leave the index unchanged.
func (b *Builder) Recycle(doc *types.ValidatedDocument) error {
	return b.writeSample("train", doc)
}

// loadAccepted reads the validated-json area, keeping only records with
// is_valid=true. Files are read in name order so the pre-shuffle ordering
// is stable.
func (b *Builder) loadAccepted() ([]*types.ValidatedDocument, int, error) {
	pattern := filepath.Join(b.ValidatedDir, "*_validated.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, 0, types.Wrap(types.KindIOFailure, err, "failed to list %s", b.ValidatedDir)
	}
	sort.Strings(paths)

	var docs []*types.ValidatedDocument
	skipped := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, 0, types.Wrap(types.KindIOFailure, err, "failed to read %s", path)
		}
		var doc types.ValidatedDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, 0, types.Wrap(types.KindSchemaFailure, err, "malformed validated record %s", path)
		}
		if doc.DocID == "" {
			doc.DocID = strings.TrimSuffix(filepath.Base(path), "_validated.json")
		}
		if !doc.Validation.IsValid {
			skipped++
			continue
		}
		docs = append(docs, &doc)
	}
	return docs, skipped, nil
}

// writeSample converts the document's pages to JPEG and writes the sidecar
// for the first page, then registers the sidecar in the subset index.
func (b *Builder) writeSample(subset string, doc *types.ValidatedDocument) error {
	dir := filepath.Join(b.OutputDir, subset)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to create %s", dir)
	}

	for i, imagePath := range doc.ImagePaths {
		name := doc.DocID + ".jpg"
		if len(doc.ImagePaths) > 1 {
			name = fmt.Sprintf("%s_%d.jpg", doc.DocID, i+1)
		}
		if err := convertToJPEG(imagePath, filepath.Join(dir, name)); err != nil {
			return err
		}
	}

	// Only the first page carries a sidecar; multi-page ground truth per
	// page is a known limitation.
	imageName := doc.DocID + ".jpg"
	if len(doc.ImagePaths) > 1 {
		imageName = doc.DocID + "_1.jpg"
	}

	flattened := Flatten(types.RecordFromMap(doc.Record))
	sidecar := Sidecar{
		GroundTruth: GroundTruth(b.TaskName, flattened),
		Image:       imageName,
		TaskPrompt:  TaskPrompt(b.TaskName),
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}

	sidecarName := doc.DocID + ".json"
	if err := os.WriteFile(filepath.Join(dir, sidecarName), data, 0644); err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to write sidecar %s", sidecarName)
	}

	return appendIndexLine(filepath.Join(b.OutputDir, subset+"_index.txt"), sidecarName)
}

// appendIndexLine adds one sidecar filename to an index file unless it is
// already listed.
func appendIndexLine(indexPath, line string) error {
	if exists, err := indexContains(indexPath, line); err != nil {
		return err
	} else if exists {
		return nil
	}

	f, err := os.OpenFile(indexPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to open index %s", indexPath)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, line); err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to append to index %s", indexPath)
	}
	return nil
}

func indexContains(indexPath, line string) (bool, error) {
	f, err := os.Open(indexPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, types.Wrap(types.KindIOFailure, err, "failed to read index %s", indexPath)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == line {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// convertToJPEG re-encodes a page image as RGB JPEG at training quality.
// PNG sources with alpha are composited onto white.
func convertToJPEG(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to open image %s", srcPath)
	}
	defer src.Close()

	var img image.Image
	if strings.EqualFold(filepath.Ext(srcPath), ".png") {
		img, err = png.Decode(src)
	} else {
		img, _, err = image.Decode(src)
	}
	if err != nil {
		return types.Wrap(types.KindSchemaFailure, err, "failed to decode image %s", srcPath)
	}

	rgb := image.NewRGBA(img.Bounds())
	draw.Draw(rgb, rgb.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(rgb, rgb.Bounds(), img, img.Bounds().Min, draw.Over)

	dst, err := os.Create(dstPath)
	if err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to create %s", dstPath)
	}
	defer dst.Close()

	if err := jpeg.Encode(dst, rgb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return types.Wrap(types.KindIOFailure, err, "failed to encode %s", dstPath)
	}
	return nil
}
