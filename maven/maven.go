// Package maven talks to a remote Maven repository: artifact downloads and
// maven-metadata.xml lookups.
package maven

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when the repository reports that an artifact or a
// metadata document does not exist.
var ErrNotFound = errors.New("maven: not found")

// API is the part of a Maven repository the javadoc server needs.
type API interface {
	// FetchArtifact streams the artifact described by req. The caller closes the
	// returned body.
	FetchArtifact(ctx context.Context, req ArtifactRequest) (io.ReadCloser, error)
	// FetchMetadata downloads and decodes a maven-metadata.xml document.
	FetchMetadata(ctx context.Context, req MetadataRequest) (*Metadata, error)
}

// ArtifactRequest identifies one file of a published version.
//
// PathVersion is the version directory; FileVersion is the version embedded in
// the file name. They differ for timestamped snapshots.
type ArtifactRequest struct {
	Group       string
	Name        string
	PathVersion string
	FileVersion string
	Extension   string
	Classifier  string
}

// NewArtifactRequest returns a request for the jar of version with the given
// classifier (may be empty).
func NewArtifactRequest(group, name, version, classifier string) ArtifactRequest {
	return ArtifactRequest{
		Group:       group,
		Name:        name,
		PathVersion: version,
		FileVersion: version,
		Extension:   "jar",
		Classifier:  classifier,
	}
}

// IsSnapshot reports whether the file version still needs to be pinned to a
// timestamped snapshot.
func (r ArtifactRequest) IsSnapshot() bool {
	return strings.HasSuffix(r.FileVersion, "-SNAPSHOT")
}

func (r ArtifactRequest) String() string {
	s := fmt.Sprintf("%s:%s:%s", r.Group, r.Name, r.FileVersion)
	if r.Classifier != "" {
		s += ":" + r.Classifier
	}
	return s + "@" + r.Extension
}

// MetadataRequest addresses an artifact-level metadata document, or a
// version-level one when Version is set.
type MetadataRequest struct {
	Group   string
	Name    string
	Version string
}

func (r MetadataRequest) String() string {
	if r.Version == "" {
		return r.Group + ":" + r.Name
	}
	return r.Group + ":" + r.Name + ":" + r.Version
}

// Metadata is a decoded maven-metadata.xml. Unknown elements are ignored;
// absent values are empty strings.
type Metadata struct {
	GroupID    string     `xml:"groupId"`
	ArtifactID string     `xml:"artifactId"`
	Version    string     `xml:"version"`
	Versioning Versioning `xml:"versioning"`
}

// Versioning is the <versioning> element.
type Versioning struct {
	Latest           string            `xml:"latest"`
	Release          string            `xml:"release"`
	Versions         []string          `xml:"versions>version"`
	LastUpdated      string            `xml:"lastUpdated"`
	SnapshotVersions []SnapshotVersion `xml:"snapshotVersions>snapshotVersion"`
}

// SnapshotVersion maps a classifier/extension pair to its timestamped version.
type SnapshotVersion struct {
	Classifier string `xml:"classifier"`
	Extension  string `xml:"extension"`
	Value      string `xml:"value"`
	Updated    string `xml:"updated"`
}

// SnapshotFor returns the timestamped version published for classifier and
// extension.
func (m *Metadata) SnapshotFor(classifier, extension string) (string, bool) {
	for _, sv := range m.Versioning.SnapshotVersions {
		if sv.Classifier == classifier && sv.Extension == extension {
			return sv.Value, true
		}
	}
	return "", false
}
