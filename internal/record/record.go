// Package record defines the measured inventory row and the typing layer
// that turns raw inventory values into it.
package record

import (
	"strings"
	"time"

	"github.com/broadinstitute/cpg/internal/prefix"
)

// Inventory is one validated S3 inventory row.
type Inventory struct {
	Bucket                       string
	Key                          string
	Size                         *int64
	LastModifiedDate             *time.Time
	ETag                         *string
	StorageClass                 *string
	IsMultipartUploaded          *bool
	ReplicationStatus            *string
	EncryptionStatus             *string
	ObjectLockRetainUntilDate    *time.Time
	ObjectLockMode               *string
	ObjectLockLegalHoldStatus    *string
	IntelligentTieringAccessTier *string
	BucketKeyStatus              *string
	ChecksumAlgorithm            *string
	ObjectAccessControlList      *string
	ObjectOwner                  *string
}

// Measured is the output row: inventory columns, key measurements, the
// parsed path roles and the parse outcome. Column order is the field order.
// Pointer fields are nullable; a zero timestamp is null.
type Measured struct {
	Bucket                       string    `parquet:"bucket"`
	Key                          string    `parquet:"key"`
	Size                         *int64    `parquet:"size"`
	LastModifiedDate             time.Time `parquet:"last_modified_date,optional,timestamp(millisecond)"`
	ETag                         *string   `parquet:"e_tag"`
	StorageClass                 *string   `parquet:"storage_class"`
	IsMultipartUploaded          *bool     `parquet:"is_multipart_uploaded"`
	ReplicationStatus            *string   `parquet:"replication_status"`
	EncryptionStatus             *string   `parquet:"encryption_status"`
	ObjectLockRetainUntilDate    time.Time `parquet:"object_lock_retain_until_date,optional,timestamp(millisecond)"`
	ObjectLockMode               *string   `parquet:"object_lock_mode"`
	ObjectLockLegalHoldStatus    *string   `parquet:"object_lock_legal_hold_status"`
	IntelligentTieringAccessTier *string   `parquet:"intelligent_tiering_access_tier"`
	BucketKeyStatus              *string   `parquet:"bucket_key_status"`
	ChecksumAlgorithm            *string   `parquet:"checksum_algorithm"`
	ObjectAccessControlList      *string   `parquet:"object_access_control_list"`
	ObjectOwner                  *string   `parquet:"object_owner"`

	IsDir    bool     `parquet:"is_dir"`
	KeyParts []string `parquet:"key_parts,list"`

	DatasetID                     *string `parquet:"dataset_id"`
	SourceID                      *string `parquet:"source_id"`
	RootDir                       *string `parquet:"root_dir"`
	ImagesDir                     *string `parquet:"images_dir"`
	ImagesIllumRootDir            *string `parquet:"images_illum_root_dir"`
	ImagesImagesRootDir           *string `parquet:"images_images_root_dir"`
	ImagesAlignedRootDir          *string `parquet:"images_aligned_root_dir"`
	ImagesCorrectedRootDir        *string `parquet:"images_corrected_root_dir"`
	ImagesCorrectedCroppedRootDir *string `parquet:"images_corrected_cropped_root_dir"`
	WorkspaceDir                  *string `parquet:"workspace_dir"`
	WorkspaceAnalysisRootDir      *string `parquet:"workspace_analysis_root_dir"`
	WorkspaceBackendRootDir       *string `parquet:"workspace_backend_root_dir"`
	WorkspaceLoadDataRootDir      *string `parquet:"workspace_load_data_root_dir"`
	WorkspaceMetadataRootDir      *string `parquet:"workspace_metadata_root_dir"`
	WorkspaceMetadataDir          *string `parquet:"workspace_metadata_dir"`
	WorkspaceProfilesRootDir      *string `parquet:"workspace_profiles_root_dir"`
	WorkspaceAssayDevRootDir      *string `parquet:"workspace_assaydev_root_dir"`
	WorkspaceQCRootDir            *string `parquet:"workspace_qc_root_dir"`
	WorkspacePipelinesRootDir     *string `parquet:"workspace_pipelines_root_dir"`
	WorkspaceSoftwareRootDir      *string `parquet:"workspace_software_root_dir"`
	WorkspaceDLDir                *string `parquet:"workspace_dl_dir"`
	WorkspaceDLEmbeddingsRootDir  *string `parquet:"workspace_dl_embeddings_root_dir"`
	WorkspaceDLProfilesRootDir    *string `parquet:"workspace_dl_profiles_root_dir"`
	MetadataRootDir               *string `parquet:"metadata_root_dir"`
	BatchID                       *string `parquet:"batch_id"`
	PlateID                       *string `parquet:"plate_id"`
	WellID                        *string `parquet:"well_id"`
	SiteID                        *string `parquet:"site_id"`
	WellSiteID                    *string `parquet:"well_site_id"`
	PlateWellSiteID               *string `parquet:"plate_well_site_id"`
	LeafNode                      *string `parquet:"leaf_node"`
	Filename                      *string `parquet:"filename"`
	Extension                     *string `parquet:"extension"`
	ModelID                       *string `parquet:"model_id"`
	SoftwareHash                  *string `parquet:"software_hash"`

	IsParsingError bool    `parquet:"is_parsing_error"`
	Errors         *string `parquet:"errors"`
}

// FromParsed builds a successfully measured row.
func FromParsed(inv Inventory, p prefix.Parsed) Measured {
	m := fromInventory(inv)
	m.setParsed(p)
	return m
}

// FromFailure builds an error row for a key that could not be measured. The
// inventory columns are kept when inv is non-nil; the prefix columns are
// always unset.
func FromFailure(bucket, key string, inv *Inventory, err error) Measured {
	var m Measured
	if inv != nil {
		m = fromInventory(*inv)
	} else {
		m = fromInventory(Inventory{Bucket: bucket, Key: key})
	}
	m.IsParsingError = true
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	m.Errors = &msg
	return m
}

func fromInventory(inv Inventory) Measured {
	return Measured{
		Bucket:                       inv.Bucket,
		Key:                          inv.Key,
		Size:                         inv.Size,
		LastModifiedDate:             deref(inv.LastModifiedDate),
		ETag:                         inv.ETag,
		StorageClass:                 inv.StorageClass,
		IsMultipartUploaded:          inv.IsMultipartUploaded,
		ReplicationStatus:            inv.ReplicationStatus,
		EncryptionStatus:             inv.EncryptionStatus,
		ObjectLockRetainUntilDate:    deref(inv.ObjectLockRetainUntilDate),
		ObjectLockMode:               inv.ObjectLockMode,
		ObjectLockLegalHoldStatus:    inv.ObjectLockLegalHoldStatus,
		IntelligentTieringAccessTier: inv.IntelligentTieringAccessTier,
		BucketKeyStatus:              inv.BucketKeyStatus,
		ChecksumAlgorithm:            inv.ChecksumAlgorithm,
		ObjectAccessControlList:      inv.ObjectAccessControlList,
		ObjectOwner:                  inv.ObjectOwner,

		IsDir:    strings.HasSuffix(inv.Key, "/"),
		KeyParts: strings.Split(inv.Key, "/"),
	}
}

func (m *Measured) setParsed(p prefix.Parsed) {
	m.DatasetID = p.DatasetID
	m.SourceID = p.SourceID
	m.RootDir = p.RootDir
	m.ImagesDir = p.ImagesDir
	m.ImagesIllumRootDir = p.ImagesIllumRootDir
	m.ImagesImagesRootDir = p.ImagesImagesRootDir
	m.ImagesAlignedRootDir = p.ImagesAlignedRootDir
	m.ImagesCorrectedRootDir = p.ImagesCorrectedRootDir
	m.ImagesCorrectedCroppedRootDir = p.ImagesCorrectedCroppedRootDir
	m.WorkspaceDir = p.WorkspaceDir
	m.WorkspaceAnalysisRootDir = p.WorkspaceAnalysisRootDir
	m.WorkspaceBackendRootDir = p.WorkspaceBackendRootDir
	m.WorkspaceLoadDataRootDir = p.WorkspaceLoadDataRootDir
	m.WorkspaceMetadataRootDir = p.WorkspaceMetadataRootDir
	m.WorkspaceMetadataDir = p.WorkspaceMetadataDir
	m.WorkspaceProfilesRootDir = p.WorkspaceProfilesRootDir
	m.WorkspaceAssayDevRootDir = p.WorkspaceAssayDevRootDir
	m.WorkspaceQCRootDir = p.WorkspaceQCRootDir
	m.WorkspacePipelinesRootDir = p.WorkspacePipelinesRootDir
	m.WorkspaceSoftwareRootDir = p.WorkspaceSoftwareRootDir
	m.WorkspaceDLDir = p.WorkspaceDLDir
	m.WorkspaceDLEmbeddingsRootDir = p.WorkspaceDLEmbeddingsRootDir
	m.WorkspaceDLProfilesRootDir = p.WorkspaceDLProfilesRootDir
	m.MetadataRootDir = p.MetadataRootDir
	m.BatchID = p.BatchID
	m.PlateID = p.PlateID
	m.WellID = p.WellID
	m.SiteID = p.SiteID
	m.WellSiteID = p.WellSiteID
	m.PlateWellSiteID = p.PlateWellSiteID
	m.LeafNode = p.LeafNode
	m.Filename = p.Filename
	m.Extension = p.Extension
	m.ModelID = p.ModelID
	m.SoftwareHash = p.SoftwareHash
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
