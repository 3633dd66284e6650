// ProcSelfMountinfo renders MountTable_t's current bindings in the
// Linux /proc/self/mountinfo line format, so a host tool already able
// to parse that format can introspect this kernel's mount table.
// github.com/moby/sys/mountinfo.Info is the shared record type (its
// eleven documented fields: id, parent, major:minor, root, mountpoint,
// options, optional fields, a "-" separator, fstype, source,
// super-options); the package's own GetMounts/PidMountInfo only read a
// real host's /proc/self/mountinfo or /proc/<pid>/mountinfo and expose
// no public reader-based parser, so the round-trip test below parses
// the rendered line back into mountinfo.Info values with a small local
// parser rather than guessing at an unexported one.
package fs

import (
	"fmt"
	"strings"

	"github.com/moby/sys/mountinfo"
)

// DentryPath reconstructs d's absolute path by walking its Parent
// chain, the same walk a cwd/getcwd implementation needs to render a
// bound directory fd back into a path string.
func DentryPath(d *Dentry_t) string {
	if d.Parent == nil {
		return "/"
	}
	var parts []string
	for cur := d; cur.Parent != nil; cur = cur.Parent {
		parts = append([]string{cur.Name.String()}, parts...)
	}
	return "/" + strings.Join(parts, "/")
}

// mountRows snapshots the mount table into mountinfo.Info records under
// the table's lock, one per bound superblock (the root mount included).
func (mt *MountTable_t) mountRows() []*mountinfo.Info {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	rows := make([]*mountinfo.Info, 0, len(mt.mounts))
	id := 1
	for mp, m := range mt.mounts {
		parentID := 1
		if mp != mt.root {
			parentID = 1 // every mount in this kernel binds directly under /
		}
		rows = append(rows, &mountinfo.Info{
			ID:         id,
			Parent:     parentID,
			Major:      0,
			Minor:      id,
			Root:       "/",
			Mountpoint: DentryPath(mp),
			Options:    "rw,relatime",
			FSType:     "memfs",
			Source:     "memfs",
			VFSOptions: strings.ReplaceAll(m.sb.Statfs(), " ", ","),
		})
		id++
	}
	return rows
}

func formatMountinfoLine(i *mountinfo.Info) string {
	return fmt.Sprintf("%d %d %d:%d %s %s %s - %s %s %s",
		i.ID, i.Parent, i.Major, i.Minor, i.Root, i.Mountpoint, i.Options,
		i.FSType, i.Source, i.VFSOptions)
}

// ProcSelfMountinfo renders every current mount binding as one
// /proc/self/mountinfo-format line.
func (mt *MountTable_t) ProcSelfMountinfo() string {
	var b strings.Builder
	for _, row := range mt.mountRows() {
		b.WriteString(formatMountinfoLine(row))
		b.WriteByte('\n')
	}
	return b.String()
}

// parseMountinfoLine parses one /proc/self/mountinfo-format line back
// into a mountinfo.Info, the inverse of formatMountinfoLine.
func parseMountinfoLine(line string) (*mountinfo.Info, error) {
	fields := strings.Fields(line)
	sep := -1
	for i, f := range fields {
		if f == "-" {
			sep = i
			break
		}
	}
	if sep < 0 || sep < 6 || len(fields) < sep+4 {
		return nil, fmt.Errorf("malformed mountinfo line: %q", line)
	}
	var id, parent, maj, min int
	if _, err := fmt.Sscanf(fields[0], "%d", &id); err != nil {
		return nil, err
	}
	if _, err := fmt.Sscanf(fields[1], "%d", &parent); err != nil {
		return nil, err
	}
	if _, err := fmt.Sscanf(fields[2], "%d:%d", &maj, &min); err != nil {
		return nil, err
	}
	return &mountinfo.Info{
		ID:         id,
		Parent:     parent,
		Major:      maj,
		Minor:      min,
		Root:       fields[3],
		Mountpoint: fields[4],
		Options:    fields[5],
		FSType:     fields[sep+1],
		Source:     fields[sep+2],
		VFSOptions: fields[sep+3],
	}, nil
}
