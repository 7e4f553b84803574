package dataset

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skilllab/internal/types"
)

func strp(s string) *string { return &s }

func TestFlatten(t *testing.T) {
	rec := types.ResumeRecord{
		Name:            strp("Alice Smith"),
		Email:           strp("a@x"),
		Phone:           strp("555-0100"),
		CurrentPosition: strp("SE"),
		Skills:          []string{"Go", "Rust"},
		Experience:      []types.Experience{{Company: "A", Title: "SE", Years: "2020-"}},
	}

	want := strings.Join([]string{
		"Name: Alice Smith",
		"Email: a@x",
		"Phone: 555-0100",
		"Current Position: SE",
		"Skills: Go, Rust",
		"Experience:",
		"- A, SE, 2020-",
	}, "\n")
	assert.Equal(t, want, Flatten(rec))
}

func TestFlattenOmitsMissingFields(t *testing.T) {
	rec := types.ResumeRecord{Name: strp("Bob")}
	assert.Equal(t, "Name: Bob", Flatten(rec))
}

func TestGroundTruthWrapper(t *testing.T) {
	gt := GroundTruth("resume_extraction", "Name: Alice")
	assert.Equal(t, "<s_docvqa><s_resume_extraction><s_answer>Name: Alice</s_answer></s>", gt)
	assert.Equal(t, "<s_resume_extraction>", TaskPrompt("resume_extraction"))
}

// writePage writes a small white PNG page image and returns its path.
func writePage(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.White)
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

// writeValidated writes a validated-json file for one document.
func writeValidated(t *testing.T, validatedDir string, doc types.ValidatedDocument) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(validatedDir, doc.DocID+"_validated.json"), data, 0644))
}

func newTestBuilder(t *testing.T) (*Builder, string, string) {
	t.Helper()
	root := t.TempDir()
	validatedDir := filepath.Join(root, "validated_json")
	outputDir := filepath.Join(root, "donut_dataset")
	imagesDir := filepath.Join(root, "images")
	for _, d := range []string{validatedDir, outputDir, imagesDir} {
		require.NoError(t, os.MkdirAll(d, 0755))
	}
	return NewBuilder(validatedDir, outputDir, nil), validatedDir, imagesDir
}

func validDoc(t *testing.T, imagesDir, validatedDir, id string, pages int) {
	t.Helper()
	var paths []string
	for i := 1; i <= pages; i++ {
		paths = append(paths, writePage(t, imagesDir, fmt.Sprintf("%s_page_%d.png", id, i)))
	}
	writeValidated(t, validatedDir, types.ValidatedDocument{
		DocID: id,
		Record: map[string]any{
			"Name": "Person " + id, "Email": id + "@x", "Phone": nil,
			"Current_Position": nil, "Skills": []any{"Go"}, "Experience": []any{},
		},
		Validation: types.ValidationInfo{IsValid: true, Coverage: 0.95, StructureValid: true},
		ImagePaths: paths,
	})
}

func TestBuildSplitTotals(t *testing.T) {
	b, validatedDir, imagesDir := newTestBuilder(t)

	for i := 0; i < 10; i++ {
		validDoc(t, imagesDir, validatedDir, fmt.Sprintf("doc%02d", i), 1)
	}
	// One rejected record must be skipped entirely.
	writeValidated(t, validatedDir, types.ValidatedDocument{
		DocID:      "rejected",
		Record:     map[string]any{},
		Validation: types.ValidationInfo{IsValid: false},
	})

	stats, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Accepted)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 8, stats.Train)
	assert.Equal(t, 2, stats.Validation)
	assert.Equal(t, stats.Accepted, stats.Train+stats.Validation)
}

func TestBuildSingleDocumentGoesToTrain(t *testing.T) {
	b, validatedDir, imagesDir := newTestBuilder(t)
	validDoc(t, imagesDir, validatedDir, "solo", 1)

	stats, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Train)
	assert.Equal(t, 0, stats.Validation)

	_, err = os.Stat(filepath.Join(b.OutputDir, "train", "solo.json"))
	assert.NoError(t, err)
}

func TestBuildIndexIntegrity(t *testing.T) {
	b, validatedDir, imagesDir := newTestBuilder(t)

	for i := 0; i < 5; i++ {
		validDoc(t, imagesDir, validatedDir, fmt.Sprintf("doc%d", i), 1)
	}

	_, err := b.Build()
	require.NoError(t, err)

	for _, subset := range []string{"train", "validation"} {
		indexPath := filepath.Join(b.OutputDir, subset+"_index.txt")
		data, err := os.ReadFile(indexPath)
		require.NoError(t, err)

		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line == "" {
				continue
			}
			_, statErr := os.Stat(filepath.Join(b.OutputDir, subset, line))
			assert.NoError(t, statErr, "index line %q must name an existing sidecar", line)
		}
	}
}

func TestBuildDeterministicAcrossRuns(t *testing.T) {
	b, validatedDir, imagesDir := newTestBuilder(t)
	for i := 0; i < 6; i++ {
		validDoc(t, imagesDir, validatedDir, fmt.Sprintf("doc%d", i), 1)
	}

	first, err := b.Build()
	require.NoError(t, err)
	second, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Same seed, same shuffle: rebuilding must not duplicate index lines.
	data, err := os.ReadFile(filepath.Join(b.OutputDir, "train_index.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, first.Train)
}

func TestBuildMultiPageNaming(t *testing.T) {
	b, validatedDir, imagesDir := newTestBuilder(t)
	b.Split = 0.99
	validDoc(t, imagesDir, validatedDir, "multi", 2)

	_, err := b.Build()
	require.NoError(t, err)

	trainDir := filepath.Join(b.OutputDir, "train")
	for _, name := range []string{"multi_1.jpg", "multi_2.jpg", "multi.json"} {
		_, err := os.Stat(filepath.Join(trainDir, name))
		assert.NoError(t, err, name)
	}

	var sidecar Sidecar
	data, err := os.ReadFile(filepath.Join(trainDir, "multi.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &sidecar))
	assert.Equal(t, "multi_1.jpg", sidecar.Image)
}

func TestRecycleIdempotent(t *testing.T) {
	b, _, imagesDir := newTestBuilder(t)

	pagePath := writePage(t, imagesDir, "alice_page_1.png")
	doc := &types.ValidatedDocument{
		DocID: "alice",
		Record: map[string]any{
			"Name": "Alice Smith", "Email": "a@x", "Phone": "555-0100",
			"Current_Position": "SE", "Skills": []any{"Go", "Rust"},
			"Experience": []any{map[string]any{"company": "A", "title": "SE", "years": "2020-"}},
		},
		Validation: types.ValidationInfo{IsValid: true, Coverage: 0.95, StructureValid: true},
		ImagePaths: []string{pagePath},
	}

	require.NoError(t, b.Recycle(doc))
	require.NoError(t, b.Recycle(doc))

	trainDir := filepath.Join(b.OutputDir, "train")

	jpgFile, err := os.Open(filepath.Join(trainDir, "alice.jpg"))
	require.NoError(t, err)
	defer jpgFile.Close()
	_, err = jpeg.Decode(jpgFile)
	require.NoError(t, err, "recycled page must be a decodable JPEG")

	var sidecar Sidecar
	data, err := os.ReadFile(filepath.Join(trainDir, "alice.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &sidecar))
	assert.True(t, strings.HasPrefix(sidecar.GroundTruth,
		"<s_docvqa><s_resume_extraction><s_answer>Name: Alice Smith"))

	data, err = os.ReadFile(filepath.Join(b.OutputDir, "train_index.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alice.json\n", string(data))
}
