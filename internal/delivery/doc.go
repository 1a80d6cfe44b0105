// Package delivery moves finished transcodes into the archive.
//
// A Destination places the file at <root>/<Title (Year)>/<Title>.<ext>,
// picking <Title>_1.<ext>, <Title>_2.<ext>, ... when the name is taken, and
// writes a metadata.json sidecar into the same folder. Local writes to a
// directory on this host; Remote streams over SFTP on an SSH connection
// authenticated by key. Names are reserved with exclusive creates so two
// deliveries never pick the same file.
package delivery
