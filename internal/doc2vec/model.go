package doc2vec

import (
	"encoding/gob"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

const noiseTableSize = 1_000_000

// TaggedDocument is one training document: normalized tokens plus the
// message id used as the document tag.
type TaggedDocument struct {
	Tag    int64
	Tokens []string
}

type Options struct {
	VectorSize int
	Epochs     int
	MinCount   int
	Negative   int
	Alpha      float64
	MinAlpha   float64
	Seed       int64
}

func (o Options) withDefaults() Options {
	if o.VectorSize <= 0 {
		o.VectorSize = 350
	}
	if o.Epochs <= 0 {
		o.Epochs = 200
	}
	if o.MinCount <= 0 {
		o.MinCount = 2
	}
	if o.Negative <= 0 {
		o.Negative = 5
	}
	if o.Alpha <= 0 {
		o.Alpha = 0.025
	}
	if o.MinAlpha <= 0 {
		o.MinAlpha = 0.0001
	}
	if o.Seed == 0 {
		o.Seed = 1
	}
	return o
}

// Model is a distributed-bag-of-words document embedding model. The document
// vector alone predicts each of the document's words via negative sampling,
// so arbitrary new text can be folded into the same space by Infer.
//
// A trained model is immutable: Infer only reads the frozen output weights
// and is safe for concurrent use.
type Model struct {
	opts       Options
	vocab      map[string]int
	wordCounts []int
	wordOut    [][]float32
	docTags    []int64
	docVecs    [][]float32
	noise      []int32
}

// DocVector pairs a document tag with its trained vector.
type DocVector struct {
	Tag    int64
	Vector []float32
}

// Train builds the vocabulary over the tagged documents and trains one
// document vector per tag. Every tagged document gets a vector even when
// none of its tokens survive the frequency cutoff.
func Train(docs []TaggedDocument, opts Options, logger *zap.Logger) *Model {
	opts = opts.withDefaults()
	m := &Model{opts: opts}
	m.buildVocab(docs, logger)
	m.buildNoiseTable()

	rng := rand.New(rand.NewSource(opts.Seed))
	m.docTags = make([]int64, len(docs))
	m.docVecs = make([][]float32, len(docs))
	indexed := make([][]int, len(docs))
	for d, doc := range docs {
		m.docTags[d] = doc.Tag
		m.docVecs[d] = m.randomVector(rng)
		for _, token := range doc.Tokens {
			if idx, ok := m.vocab[token]; ok {
				indexed[d] = append(indexed[d], idx)
			}
		}
	}

	scratch := make([]float32, opts.VectorSize)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		alpha := m.epochAlpha(epoch)
		for d, wordIdxs := range indexed {
			docVec := m.docVecs[d]
			for _, wordIdx := range wordIdxs {
				m.trainStep(docVec, wordIdx, alpha, true, rng, scratch)
			}
		}
		if logger != nil && (epoch+1)%20 == 0 {
			logger.Info("training progress",
				zap.Int("epoch", epoch+1),
				zap.Int("epochs", opts.Epochs),
				zap.Float64("alpha", alpha))
		}
	}
	return m
}

// Infer folds an arbitrary token sequence into the trained vector space.
// Out-of-vocabulary tokens contribute nothing; a query with no known tokens
// yields an untrained (near-random) vector.
func (m *Model) Infer(tokens []string) []float32 {
	rng := rand.New(rand.NewSource(rand.Int63()))
	vec := m.randomVector(rng)

	var wordIdxs []int
	for _, token := range tokens {
		if idx, ok := m.vocab[token]; ok {
			wordIdxs = append(wordIdxs, idx)
		}
	}
	if len(wordIdxs) == 0 {
		return vec
	}

	scratch := make([]float32, m.opts.VectorSize)
	for epoch := 0; epoch < m.opts.Epochs; epoch++ {
		alpha := m.epochAlpha(epoch)
		for _, wordIdx := range wordIdxs {
			m.trainStep(vec, wordIdx, alpha, false, rng, scratch)
		}
	}
	return vec
}

func (m *Model) VectorSize() int { return m.opts.VectorSize }

func (m *Model) Len() int { return len(m.docTags) }

func (m *Model) VocabSize() int { return len(m.vocab) }

// DocVectors returns every trained (tag, vector) pair. The slices alias the
// model's storage and must not be mutated.
func (m *Model) DocVectors() []DocVector {
	out := make([]DocVector, len(m.docTags))
	for i, tag := range m.docTags {
		out[i] = DocVector{Tag: tag, Vector: m.docVecs[i]}
	}
	return out
}

func (m *Model) buildVocab(docs []TaggedDocument, logger *zap.Logger) {
	counts := map[string]int{}
	for _, doc := range docs {
		for _, token := range doc.Tokens {
			counts[token]++
		}
	}
	terms := make([]string, 0, len(counts))
	for term, count := range counts {
		if count >= m.opts.MinCount {
			terms = append(terms, term)
		}
	}
	sort.Strings(terms)

	m.vocab = make(map[string]int, len(terms))
	m.wordOut = make([][]float32, len(terms))
	for i, term := range terms {
		m.vocab[term] = i
		m.wordOut[i] = make([]float32, m.opts.VectorSize)
	}
	m.wordCounts = make([]int, len(terms))
	for i, term := range terms {
		m.wordCounts[i] = counts[term]
	}
	if logger != nil {
		logger.Info("vocabulary built",
			zap.Int("documents", len(docs)),
			zap.Int("raw_terms", len(counts)),
			zap.Int("kept_terms", len(terms)))
	}
}

// buildNoiseTable fills the negative-sampling table with word indices
// proportional to count^0.75, the usual unigram smoothing.
func (m *Model) buildNoiseTable() {
	if len(m.wordCounts) == 0 {
		m.noise = nil
		return
	}
	var total float64
	weights := make([]float64, len(m.wordCounts))
	for i, count := range m.wordCounts {
		weights[i] = math.Pow(float64(count), 0.75)
		total += weights[i]
	}
	m.noise = make([]int32, noiseTableSize)
	word := 0
	cumulative := weights[0] / total
	for i := 0; i < noiseTableSize; i++ {
		m.noise[i] = int32(word)
		if float64(i)/noiseTableSize > cumulative && word < len(weights)-1 {
			word++
			cumulative += weights[word] / total
		}
	}
}

// trainStep runs one positive update for the target word plus Negative
// sampled updates. The document vector always learns; the word output
// weights learn only during training (updateWords), never during inference.
func (m *Model) trainStep(docVec []float32, target int, alpha float64, updateWords bool, rng *rand.Rand, scratch []float32) {
	for i := range scratch {
		scratch[i] = 0
	}
	for step := 0; step <= m.opts.Negative; step++ {
		word := target
		label := float32(1)
		if step > 0 {
			if len(m.noise) == 0 {
				break
			}
			word = int(m.noise[rng.Intn(len(m.noise))])
			if word == target {
				continue
			}
			label = 0
		}
		out := m.wordOut[word]
		var dot float32
		for i := range docVec {
			dot += docVec[i] * out[i]
		}
		grad := (label - sigmoid(dot)) * float32(alpha)
		for i := range docVec {
			scratch[i] += grad * out[i]
		}
		if updateWords {
			for i := range docVec {
				out[i] += grad * docVec[i]
			}
		}
	}
	for i := range docVec {
		docVec[i] += scratch[i]
	}
}

func (m *Model) epochAlpha(epoch int) float64 {
	progress := float64(epoch) / float64(m.opts.Epochs)
	return m.opts.Alpha - (m.opts.Alpha-m.opts.MinAlpha)*progress
}

func (m *Model) randomVector(rng *rand.Rand) []float32 {
	vec := make([]float32, m.opts.VectorSize)
	bound := 0.5 / float32(m.opts.VectorSize)
	for i := range vec {
		vec[i] = (rng.Float32()*2 - 1) * bound
	}
	return vec
}

func sigmoid(x float32) float32 {
	if x > 6 {
		return 1
	}
	if x < -6 {
		return 0
	}
	return float32(1 / (1 + math.Exp(-float64(x))))
}

type persistedModel struct {
	Options Options
	Terms   []string
	Counts  []int
	WordOut [][]float32
	DocTags []int64
	DocVecs [][]float32
}

// Save writes the complete model to path. The write goes through a temp
// file and a rename, so a crash never leaves a partial model file behind.
func (m *Model) Save(path string) error {
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o755); err != nil {
		return err
	}

	terms := make([]string, len(m.vocab))
	for term, idx := range m.vocab {
		terms[idx] = term
	}
	snapshot := persistedModel{
		Options: m.opts,
		Terms:   terms,
		Counts:  m.wordCounts,
		WordOut: m.wordOut,
		DocTags: m.docTags,
		DocVecs: m.docVecs,
	}

	tmp, err := os.CreateTemp(filepath.Dir(clean), ".model-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := gob.NewEncoder(tmp).Encode(snapshot); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, clean)
}

// Load reads a model previously written by Save.
func Load(path string) (*Model, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var snapshot persistedModel
	if err := gob.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, err
	}
	if snapshot.Options.VectorSize <= 0 {
		return nil, errors.New("invalid model snapshot")
	}

	m := &Model{
		opts:       snapshot.Options.withDefaults(),
		vocab:      make(map[string]int, len(snapshot.Terms)),
		wordOut:    snapshot.WordOut,
		wordCounts: snapshot.Counts,
		docTags:    snapshot.DocTags,
		docVecs:    snapshot.DocVecs,
	}
	for i, term := range snapshot.Terms {
		m.vocab[term] = i
	}
	m.buildNoiseTable()
	return m, nil
}
