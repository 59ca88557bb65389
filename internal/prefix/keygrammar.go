package prefix

import "github.com/broadinstitute/cpg/internal/grammar"

// Rule names produced by the key grammar. Capture names double as the
// snake-case field they populate.
const (
	ruleDatasetID     = "dataset_id"
	ruleSourceID      = "source_id"
	ruleBatchID       = "batch_id"
	rulePlateID       = "plate_id"
	ruleModelID       = "model_id"
	ruleSoftwareHash  = "software_hash"
	ruleWellSite      = "well_site"
	rulePlateWellSite = "plate_well_site"

	ruleRootImages      = "root_images"
	ruleRootWorkspace   = "root_workspace"
	ruleRootWorkspaceDL = "root_workspace_dl"
	ruleRootMetadata    = "root_metadata"
	ruleRootNA          = "root_na"

	ruleImagesIllum          = "images_illum"
	ruleImagesImages         = "images_images"
	ruleImagesRaw            = "images_raw"
	ruleImagesPlates         = "images_plates"
	ruleImagesAligned        = "images_aligned"
	ruleImagesCorrected      = "images_corrected"
	ruleImagesCorrectedPlate = "images_corrected_plate"
	ruleImagesCropped        = "images_corrected_cropped"
	ruleImagesAlignedFlat    = "images_aligned_flat"
	ruleImagesCorrectedFlat  = "images_corrected_flat"
	ruleImagesCroppedFlat    = "images_corrected_cropped_flat"

	ruleWorkspaceAnalysis       = "workspace_analysis"
	ruleWorkspaceAnalysisNested = "workspace_analysis_nested"
	ruleWorkspaceBackend        = "workspace_backend"
	ruleWorkspaceLoadData       = "workspace_load_data_csv"
	ruleWorkspaceMetadata       = "workspace_metadata"
	ruleWorkspaceExternalMeta   = "workspace_metadata_external"
	ruleWorkspacePlatemaps      = "workspace_metadata_platemaps"
	ruleWorkspaceProfiles       = "workspace_profiles"
	ruleWorkspaceAssayDev       = "workspace_assaydev"
	ruleWorkspaceQC             = "workspace_qc"
	ruleWorkspaceQualityControl = "workspace_quality_control"
	ruleWorkspacePipelines      = "workspace_pipelines"
	ruleWorkspaceSoftware       = "workspace_software"

	ruleWorkspaceDLEmbeddings = "workspace_dl_embeddings"
	ruleWorkspaceDLProfiles   = "workspace_dl_profiles"
)

// keyGrammar describes the Cell Painting Gallery key layout:
//
//	<dataset>/<source>/images/<batch>/{illum,images,...}/<plate>/...
//	<dataset>/<source>/workspace/{analysis,backend,...}/<batch>/<plate>/...
//	<dataset>/<source>/workspace_dl/{embeddings,profiles}/<model>/<batch>/...
//
// Any other folder under the source is unclassified and kept as the leaf.
func keyGrammar() *grammar.Rule {
	leaf := grammar.Leaf
	batch := func() *grammar.Rule { return grammar.Capture(ruleBatchID) }
	plate := func() *grammar.Rule { return grammar.Capture(rulePlateID) }
	wellSite := func() *grammar.Rule { return grammar.Capture(ruleWellSite) }

	images := grammar.Seq(ruleRootImages,
		grammar.Lit("images"),
		batch(),
		grammar.Choice("images_dir",
			grammar.Seq(ruleImagesIllum, grammar.Lit("illum"), plate(), leaf()),
			grammar.Seq(ruleImagesImages, grammar.Lit("images"),
				grammar.Choice("images_images_dir",
					grammar.Seq(ruleImagesAligned, grammar.Lit("aligned"), plate(), leaf()),
					grammar.Seq(ruleImagesCorrected, grammar.Lit("corrected"),
						grammar.Choice("images_corrected_dir",
							grammar.Seq(ruleImagesCropped, grammar.Lit("cropped"), plate(), wellSite(), leaf()),
							grammar.Seq(ruleImagesCorrectedPlate, plate(), leaf()),
						),
					),
					grammar.Seq(ruleImagesRaw, plate(), leaf()),
				),
			),
			grammar.Seq(ruleImagesAlignedFlat, grammar.Lit("images_aligned"), plate(), leaf()),
			grammar.Seq(ruleImagesCorrectedFlat, grammar.Lit("images_corrected"), plate(), leaf()),
			grammar.Seq(ruleImagesCroppedFlat, grammar.Lit("images_corrected_cropped"), plate(), wellSite(), leaf()),
			grammar.Seq(ruleImagesPlates, plate(), wellSite(), leaf()),
		),
	)

	workspace := grammar.Seq(ruleRootWorkspace,
		grammar.Lit("workspace"),
		grammar.Choice("workspace_dir",
			grammar.Seq(ruleWorkspaceAnalysis, grammar.Lit("analysis"), batch(), grammar.Capture(rulePlateWellSite),
				grammar.Choice("workspace_analysis_dir",
					grammar.Seq(ruleWorkspaceAnalysisNested, grammar.Lit("analysis"), grammar.Capture(rulePlateWellSite), leaf()),
					grammar.Seq("workspace_analysis_leaf", leaf()),
				),
			),
			grammar.Seq(ruleWorkspaceBackend, grammar.Lit("backend"), batch(), plate(), leaf()),
			grammar.Seq(ruleWorkspaceLoadData, grammar.Lit("load_data_csv"), batch(), plate(), leaf()),
			grammar.Seq(ruleWorkspaceMetadata, grammar.Lit("metadata"),
				grammar.Choice("workspace_metadata_dir",
					grammar.Seq(ruleWorkspaceExternalMeta, grammar.Lit("external_metadata"), leaf()),
					grammar.Seq(ruleWorkspacePlatemaps, grammar.Lit("platemaps"), batch(), leaf()),
					grammar.Seq("workspace_metadata_other", leaf()),
				),
			),
			grammar.Seq(ruleWorkspaceProfiles, grammar.Lit("profiles"), batch(), plate(), leaf()),
			grammar.Seq(ruleWorkspaceAssayDev, grammar.Lit("assaydev"), batch(), plate(), leaf()),
			grammar.Seq(ruleWorkspaceQC, grammar.Lit("qc"), batch(), leaf()),
			grammar.Seq(ruleWorkspaceQualityControl, grammar.Lit("quality_control"), batch(), leaf()),
			grammar.Seq(ruleWorkspacePipelines, grammar.Lit("pipelines"), batch(), leaf()),
			grammar.Seq(ruleWorkspaceSoftware, grammar.Lit("software"), grammar.Capture(ruleSoftwareHash), leaf()),
		),
	)

	workspaceDL := grammar.Seq(ruleRootWorkspaceDL,
		grammar.Lit("workspace_dl"),
		grammar.Choice("workspace_dl_dir",
			grammar.Seq(ruleWorkspaceDLEmbeddings, grammar.Lit("embeddings"),
				grammar.Capture(ruleModelID), batch(), plate(), wellSite(), leaf()),
			grammar.Seq(ruleWorkspaceDLProfiles, grammar.Lit("profiles"),
				grammar.Capture(ruleModelID), batch(), plate(), leaf()),
		),
	)

	return grammar.Seq("key",
		grammar.Capture(ruleDatasetID),
		grammar.Capture(ruleSourceID),
		grammar.Choice("root_dir",
			images,
			workspace,
			workspaceDL,
			grammar.Seq(ruleRootMetadata, grammar.Lit("metadata"), leaf()),
			grammar.Seq(ruleRootNA, leaf()),
		),
	)
}
