package prefix

import (
	"strings"

	"github.com/broadinstitute/cpg/internal/grammar"
)

type branchFunc func(p *Parsed, root string)

var branches = map[string]branchFunc{
	ruleRootImages:      func(p *Parsed, _ string) { p.RootDir = ptr(RootImages) },
	ruleRootWorkspace:   func(p *Parsed, _ string) { p.RootDir = ptr(RootWorkspace) },
	ruleRootWorkspaceDL: func(p *Parsed, _ string) { p.RootDir = ptr(RootWorkspaceDL) },
	ruleRootNA:          func(p *Parsed, _ string) { p.RootDir = ptr(RootNA) },
	ruleRootMetadata: func(p *Parsed, root string) {
		p.RootDir = ptr(RootMetadata)
		p.MetadataRootDir = ptr(root)
	},

	ruleImagesIllum:          imagesBranch("illum", func(p *Parsed) **string { return &p.ImagesIllumRootDir }),
	ruleImagesImages:         imagesBranch("images", func(p *Parsed) **string { return &p.ImagesImagesRootDir }),
	ruleImagesRaw:            imagesBranch("images", func(p *Parsed) **string { return &p.ImagesImagesRootDir }),
	ruleImagesPlates:         imagesBranch("images", func(p *Parsed) **string { return &p.ImagesImagesRootDir }),
	ruleImagesAligned:        imagesBranch("images_aligned", func(p *Parsed) **string { return &p.ImagesAlignedRootDir }),
	ruleImagesAlignedFlat:    imagesBranch("images_aligned", func(p *Parsed) **string { return &p.ImagesAlignedRootDir }),
	ruleImagesCorrected:      imagesBranch("images_corrected", func(p *Parsed) **string { return &p.ImagesCorrectedRootDir }),
	ruleImagesCorrectedPlate: imagesBranch("images_corrected", func(p *Parsed) **string { return &p.ImagesCorrectedRootDir }),
	ruleImagesCorrectedFlat:  imagesBranch("images_corrected", func(p *Parsed) **string { return &p.ImagesCorrectedRootDir }),
	ruleImagesCropped:        imagesBranch("images_corrected_cropped", func(p *Parsed) **string { return &p.ImagesCorrectedCroppedRootDir }),
	ruleImagesCroppedFlat:    imagesBranch("images_corrected_cropped", func(p *Parsed) **string { return &p.ImagesCorrectedCroppedRootDir }),

	ruleWorkspaceAnalysis:       workspaceBranch("analysis", func(p *Parsed) **string { return &p.WorkspaceAnalysisRootDir }),
	ruleWorkspaceBackend:        workspaceBranch("backend", func(p *Parsed) **string { return &p.WorkspaceBackendRootDir }),
	ruleWorkspaceLoadData:       workspaceBranch("load_data_csv", func(p *Parsed) **string { return &p.WorkspaceLoadDataRootDir }),
	ruleWorkspaceMetadata:       workspaceBranch("metadata", func(p *Parsed) **string { return &p.WorkspaceMetadataRootDir }),
	ruleWorkspaceProfiles:       workspaceBranch("profiles", func(p *Parsed) **string { return &p.WorkspaceProfilesRootDir }),
	ruleWorkspaceAssayDev:       workspaceBranch("assaydev", func(p *Parsed) **string { return &p.WorkspaceAssayDevRootDir }),
	ruleWorkspaceQC:             workspaceBranch("qc", func(p *Parsed) **string { return &p.WorkspaceQCRootDir }),
	ruleWorkspaceQualityControl: workspaceBranch("quality_control", func(p *Parsed) **string { return &p.WorkspaceQCRootDir }),
	ruleWorkspacePipelines:      workspaceBranch("pipelines", func(p *Parsed) **string { return &p.WorkspacePipelinesRootDir }),
	ruleWorkspaceSoftware:       workspaceBranch("software", func(p *Parsed) **string { return &p.WorkspaceSoftwareRootDir }),
	ruleWorkspaceExternalMeta:   func(p *Parsed, _ string) { p.WorkspaceMetadataDir = ptr("external_metadata") },
	ruleWorkspacePlatemaps:      func(p *Parsed, _ string) { p.WorkspaceMetadataDir = ptr("platemaps") },

	ruleWorkspaceDLEmbeddings: func(p *Parsed, root string) {
		p.WorkspaceDLDir = ptr("embeddings")
		p.WorkspaceDLEmbeddingsRootDir = ptr(root)
	},
	ruleWorkspaceDLProfiles: func(p *Parsed, root string) {
		p.WorkspaceDLDir = ptr("profiles")
		p.WorkspaceDLProfilesRootDir = ptr(root)
	},
}

// imagesBranch sets images_dir and one images root. Nested branches are
// visited after their parents, so the most specific one wins.
func imagesBranch(dir string, field func(*Parsed) **string) branchFunc {
	return func(p *Parsed, root string) {
		p.ImagesIllumRootDir = nil
		p.ImagesImagesRootDir = nil
		p.ImagesAlignedRootDir = nil
		p.ImagesCorrectedRootDir = nil
		p.ImagesCorrectedCroppedRootDir = nil
		p.ImagesDir = ptr(dir)
		*field(p) = ptr(root)
	}
}

func workspaceBranch(dir string, field func(*Parsed) **string) branchFunc {
	return func(p *Parsed, root string) {
		p.WorkspaceDir = ptr(dir)
		*field(p) = ptr(root)
	}
}

// Extract walks a key parse tree and assigns each captured segment to its
// field. It never fails: a tree with little structure yields a record with
// few fields set.
func Extract(tree *grammar.Tree) Parsed {
	var p Parsed
	if tree == nil {
		return p
	}
	input := tree.Input

	tree.Walk(func(n *grammar.Tree) {
		switch n.Kind {
		case grammar.NodeCapture:
			p.capture(n.Rule, n.Text)
		case grammar.NodeLeaf:
			p.leaf(n)
		case grammar.NodeSeq:
			if set, ok := branches[n.Rule]; ok {
				set(&p, branchRoot(input, n))
			}
		}
	})

	if p.WellID != nil && p.SiteID != nil {
		p.WellSiteID = ptr(*p.WellID + "-" + *p.SiteID)
		if p.PlateID != nil {
			p.PlateWellSiteID = ptr(*p.PlateID + "-" + *p.WellSiteID)
		}
	}
	return p
}

// branchRoot is the key prefix up to and including the branch folder. For
// branches without a keyword it is the folder holding the branch.
func branchRoot(input string, n *grammar.Tree) string {
	if len(n.Children) > 0 && n.Children[0].Kind == grammar.NodeKeyword {
		return input[:n.Children[0].End]
	}
	if n.Start > 0 {
		return input[:n.Start-1]
	}
	return ""
}

func (p *Parsed) capture(rule, text string) {
	switch rule {
	case ruleDatasetID:
		p.DatasetID = ptr(text)
	case ruleSourceID:
		p.SourceID = ptr(text)
	case ruleBatchID:
		p.BatchID = ptr(text)
	case rulePlateID:
		p.PlateID = ptr(text)
	case ruleModelID:
		p.ModelID = ptr(text)
	case ruleSoftwareHash:
		p.SoftwareHash = ptr(text)
	case ruleWellSite:
		well, site, ok := splitLast(text)
		if !ok {
			p.WellID, p.SiteID = ptr(text), nil
			return
		}
		p.WellID, p.SiteID = ptr(well), ptr(site)
	case rulePlateWellSite:
		// a nested token replaces all three ids, even when it cannot be split
		rest, site, ok := splitLast(text)
		if !ok {
			p.PlateID, p.WellID, p.SiteID = ptr(text), nil, nil
			return
		}
		plate, well, ok := splitLast(rest)
		if !ok {
			p.PlateID, p.WellID, p.SiteID = ptr(text), nil, nil
			return
		}
		p.PlateID, p.WellID, p.SiteID = ptr(plate), ptr(well), ptr(site)
	}
}

func (p *Parsed) leaf(n *grammar.Tree) {
	file := n.File()
	if file == "" {
		return
	}
	p.LeafNode = ptr(n.Text)
	p.Filename = ptr(file)
	if i := strings.LastIndexByte(file, '.'); i > 0 && i < len(file)-1 {
		p.Extension = ptr(file[i+1:])
	}
}

// splitLast splits s at its last '-' when both sides are non-empty.
func splitLast(s string) (string, string, bool) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func ptr(s string) *string {
	return &s
}
