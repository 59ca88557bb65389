// Package prefix extracts the Cell Painting Gallery path roles (dataset,
// source, branch folders, batch/plate/well/site, leaf) from object keys.
package prefix

import (
	"reflect"
	"strings"

	"github.com/broadinstitute/cpg/internal/grammar"
)

// Root folder classifications.
const (
	RootImages      = "images"
	RootWorkspace   = "workspace"
	RootWorkspaceDL = "workspace_dl"
	RootMetadata    = "metadata"
	RootNA          = "na"
)

// Parsed is the sparse record of path roles found in a key. A nil field was
// not present in the key; fields of branches other than the matched one are
// always nil.
type Parsed struct {
	DatasetID *string `json:"dataset_id,omitempty"`
	SourceID  *string `json:"source_id,omitempty"`
	RootDir   *string `json:"root_dir,omitempty"`

	ImagesDir                     *string `json:"images_dir,omitempty"`
	ImagesIllumRootDir            *string `json:"images_illum_root_dir,omitempty"`
	ImagesImagesRootDir           *string `json:"images_images_root_dir,omitempty"`
	ImagesAlignedRootDir          *string `json:"images_aligned_root_dir,omitempty"`
	ImagesCorrectedRootDir        *string `json:"images_corrected_root_dir,omitempty"`
	ImagesCorrectedCroppedRootDir *string `json:"images_corrected_cropped_root_dir,omitempty"`

	WorkspaceDir              *string `json:"workspace_dir,omitempty"`
	WorkspaceAnalysisRootDir  *string `json:"workspace_analysis_root_dir,omitempty"`
	WorkspaceBackendRootDir   *string `json:"workspace_backend_root_dir,omitempty"`
	WorkspaceLoadDataRootDir  *string `json:"workspace_load_data_root_dir,omitempty"`
	WorkspaceMetadataRootDir  *string `json:"workspace_metadata_root_dir,omitempty"`
	WorkspaceMetadataDir      *string `json:"workspace_metadata_dir,omitempty"`
	WorkspaceProfilesRootDir  *string `json:"workspace_profiles_root_dir,omitempty"`
	WorkspaceAssayDevRootDir  *string `json:"workspace_assaydev_root_dir,omitempty"`
	WorkspaceQCRootDir        *string `json:"workspace_qc_root_dir,omitempty"`
	WorkspacePipelinesRootDir *string `json:"workspace_pipelines_root_dir,omitempty"`
	WorkspaceSoftwareRootDir  *string `json:"workspace_software_root_dir,omitempty"`

	WorkspaceDLDir               *string `json:"workspace_dl_dir,omitempty"`
	WorkspaceDLEmbeddingsRootDir *string `json:"workspace_dl_embeddings_root_dir,omitempty"`
	WorkspaceDLProfilesRootDir   *string `json:"workspace_dl_profiles_root_dir,omitempty"`

	MetadataRootDir *string `json:"metadata_root_dir,omitempty"`

	BatchID         *string `json:"batch_id,omitempty"`
	PlateID         *string `json:"plate_id,omitempty"`
	WellID          *string `json:"well_id,omitempty"`
	SiteID          *string `json:"site_id,omitempty"`
	WellSiteID      *string `json:"well_site_id,omitempty"`
	PlateWellSiteID *string `json:"plate_well_site_id,omitempty"`

	LeafNode     *string `json:"leaf_node,omitempty"`
	Filename     *string `json:"filename,omitempty"`
	Extension    *string `json:"extension,omitempty"`
	ModelID      *string `json:"model_id,omitempty"`
	SoftwareHash *string `json:"software_hash,omitempty"`
}

// Field is one named Parsed field.
type Field struct {
	Name  string
	Value *string
}

var fieldNames = func() []string {
	t := reflect.TypeOf(Parsed{})
	names := make([]string, t.NumField())
	for i := range names {
		names[i], _, _ = strings.Cut(t.Field(i).Tag.Get("json"), ",")
	}
	return names
}()

// FieldNames returns the snake-case names of all Parsed fields in
// declaration order.
func FieldNames() []string {
	return append([]string(nil), fieldNames...)
}

// Fields returns every field of p, set or not, in declaration order.
func (p *Parsed) Fields() []Field {
	v := reflect.ValueOf(p).Elem()
	out := make([]Field, len(fieldNames))
	for i, name := range fieldNames {
		out[i] = Field{Name: name, Value: v.Field(i).Interface().(*string)}
	}
	return out
}

// Parser parses keys with the compiled key grammar. The zero value is not
// usable; use NewParser.
type Parser struct {
	g *grammar.Grammar
}

var keyParser = grammar.MustCompile(keyGrammar())

// NewParser returns a parser backed by the shared compiled key grammar.
func NewParser() *Parser {
	return &Parser{g: keyParser}
}

// Tree parses key into a parse tree. Errors are *grammar.GrammarError.
func (p *Parser) Tree(key string) (*grammar.Tree, error) {
	return p.g.Parse(key)
}

// Parse parses key and extracts its path roles.
func (p *Parser) Parse(key string) (Parsed, error) {
	tree, err := p.g.Parse(key)
	if err != nil {
		return Parsed{}, err
	}
	return Extract(tree), nil
}
