package sitemap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cortexmap/cortex/internal/cortexerr"
)

// Magic is the CTX file's 4-byte identifier, the ASCII bytes "CTX\0" read
// as a big-endian uint32. Like every other header field it is stored
// little-endian, so a file begins with the bytes 00 58 54 43.
const Magic uint32 = 0x43545800

// FormatVersion is the only version this codec emits or accepts.
const FormatVersion uint32 = 1

// headerSize is the fixed 48-byte CTX header: magic(4) +
// format_version(4) + domain_length(4) + mapped_at(4) + node_count(4) +
// edge_count(4) + cluster_count(4) + flags(4) = 32 bytes, plus a 16-byte
// inline domain slot. Domains longer than 16 bytes cannot round-trip
// through the fixed header and are rejected at encode time.
const headerSize = 48
const domainInlineCap = headerSize - 32

const (
	mapFlagProgressiveActive uint32 = 1 << 0
)

// Encode serialises a SiteMap into the CTX binary format.
func Encode(m *SiteMap) ([]byte, error) {
	if len(m.Domain) > domainInlineCap {
		return nil, cortexerr.New(cortexerr.EMapTooLarge, fmt.Sprintf("domain %q exceeds %d-byte inline cap", m.Domain, domainInlineCap))
	}

	buf := &bytes.Buffer{}

	var flags uint32
	if m.ProgressiveActive {
		flags |= mapFlagProgressiveActive
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(m.Domain)))
	binary.LittleEndian.PutUint32(header[12:16], m.MappedAt)
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(m.Nodes)))
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(m.Edges)))
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(m.Clusters)))
	binary.LittleEndian.PutUint32(header[28:32], flags)
	copy(header[32:], []byte(m.Domain))
	buf.Write(header)

	urlData, urlOffsets := buildURLTable(m.Nodes)

	for i := range m.Nodes {
		writeNodeRecord(buf, &m.Nodes[i])
	}

	for _, e := range m.Edges {
		writeEdgeRecord(buf, e)
	}
	writeUint32Slice(buf, m.EdgeIndex)

	for _, row := range m.Features {
		for _, v := range row {
			writeFloat32(buf, v)
		}
	}

	writeUint32(buf, uint32(len(m.Actions)))
	for _, a := range m.Actions {
		writeActionRecord(buf, a)
	}
	writeUint32Slice(buf, m.ActionIndex)

	writeUint32Slice(buf, m.ClusterAssignments)
	for _, c := range m.Clusters {
		for _, v := range c.Centroid {
			writeFloat32(buf, v)
		}
	}
	for _, c := range m.Clusters {
		buf.WriteByte(byte(c.DominantType))
	}

	buf.Write(urlData)
	writeUint32Slice(buf, urlOffsets)

	return buf.Bytes(), nil
}

// Decode parses a CTX file, validates its structure, and recomputes
// feature_norm for every node to verify integrity.
func Decode(data []byte) (*SiteMap, error) {
	if len(data) < headerSize {
		return nil, cortexerr.New(cortexerr.EMapCorrupt, "file shorter than header")
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return nil, cortexerr.New(cortexerr.EMapCorrupt, "bad magic")
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != FormatVersion {
		return nil, cortexerr.New(cortexerr.EMapCorrupt, fmt.Sprintf("unsupported format_version %d", version))
	}
	domainLen := binary.LittleEndian.Uint32(data[8:12])
	if domainLen > domainInlineCap {
		return nil, cortexerr.New(cortexerr.EMapCorrupt, "domain_length exceeds header capacity")
	}
	mappedAt := binary.LittleEndian.Uint32(data[12:16])
	nodeCount := binary.LittleEndian.Uint32(data[16:20])
	edgeCount := binary.LittleEndian.Uint32(data[20:24])
	clusterCount := binary.LittleEndian.Uint32(data[24:28])
	flags := binary.LittleEndian.Uint32(data[28:32])
	domain := string(data[32 : 32+domainLen])

	r := &reader{data: data, off: headerSize}

	nodes := make([]Node, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		n, err := r.readNodeRecord()
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}

	edges := make([]Edge, edgeCount)
	for i := uint32(0); i < edgeCount; i++ {
		e, err := r.readEdgeRecord()
		if err != nil {
			return nil, err
		}
		edges[i] = e
	}
	edgeIndex, err := r.readUint32Slice(int(nodeCount) + 1)
	if err != nil {
		return nil, err
	}
	if err := validateCSR(edgeIndex, uint32(len(edges)), nodeCount); err != nil {
		return nil, err
	}

	features := make([][FeatureDim]float32, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		for d := 0; d < FeatureDim; d++ {
			v, err := r.readFloat32()
			if err != nil {
				return nil, err
			}
			features[i][d] = v
		}
	}

	actionCountSlice, err := r.readUint32Slice(1)
	if err != nil {
		return nil, err
	}
	actionCount := actionCountSlice[0]
	actions := make([]Action, actionCount)
	for i := range actions {
		a, err := r.readActionRecord()
		if err != nil {
			return nil, err
		}
		actions[i] = a
	}
	actionIndex, err := r.readUint32Slice(int(nodeCount) + 1)
	if err != nil {
		return nil, err
	}
	if err := validateCSR(actionIndex, actionCount, nodeCount); err != nil {
		return nil, err
	}

	clusterAssignments, err := r.readUint32Slice(int(nodeCount))
	if err != nil {
		return nil, err
	}
	for _, c := range clusterAssignments {
		if clusterCount > 0 && c >= clusterCount {
			return nil, cortexerr.New(cortexerr.EMapCorrupt, "cluster_assignment out of range")
		}
	}

	clusters := make([]Cluster, clusterCount)
	for i := uint32(0); i < clusterCount; i++ {
		for d := 0; d < FeatureDim; d++ {
			v, err := r.readFloat32()
			if err != nil {
				return nil, err
			}
			clusters[i].Centroid[d] = v
		}
	}
	for i := uint32(0); i < clusterCount; i++ {
		b, err := r.readByte()
		if err != nil {
			return nil, err
		}
		clusters[i].DominantType = PageType(b)
	}

	urlDataStart := r.off
	// The URL table's data blob is immediately followed by a fixed-size
	// offset array (one uint32 per node, in node order); the offsets are
	// only known once the trailing array is located from the end of the
	// buffer.
	urlOffsets, urlData, err := r.readURLTable(int(nodeCount), urlDataStart)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nodeCount; i++ {
		u, err := readCString(urlData, int(urlOffsets[i]))
		if err != nil {
			return nil, cortexerr.Wrap(cortexerr.EMapCorrupt, "invalid url offset", err)
		}
		nodes[i].URL = u
	}

	seen := make(map[string]bool, nodeCount)
	for _, n := range nodes {
		if seen[n.URL] {
			return nil, cortexerr.New(cortexerr.EMapCorrupt, "duplicate URL in url table")
		}
		seen[n.URL] = true
	}

	for i := range nodes {
		want := nodes[i].FeatureNorm
		got := ComputeFeatureNorm(features[i])
		if math.Abs(float64(want-got)) > 1e-3 {
			return nil, cortexerr.New(cortexerr.EMapCorrupt, fmt.Sprintf("feature_norm mismatch at node %d: stored %f, recomputed %f", i, want, got))
		}
		nodes[i].FeatureNorm = got
	}

	return &SiteMap{
		Domain:             domain,
		MappedAt:           mappedAt,
		Nodes:              nodes,
		Edges:              edges,
		EdgeIndex:          edgeIndex,
		Actions:            actions,
		ActionIndex:        actionIndex,
		Features:           features,
		ClusterAssignments: clusterAssignments,
		Clusters:           clusters,
		ProgressiveActive:  flags&mapFlagProgressiveActive != 0,
	}, nil
}

func validateCSR(index []uint32, itemCount, nodeCount uint32) error {
	if len(index) != int(nodeCount)+1 {
		return cortexerr.New(cortexerr.EMapCorrupt, "csr index has wrong length")
	}
	for i := 1; i < len(index); i++ {
		if index[i] < index[i-1] {
			return cortexerr.New(cortexerr.EMapCorrupt, "csr index not monotonic")
		}
	}
	if len(index) > 0 && index[len(index)-1] != itemCount {
		return cortexerr.New(cortexerr.EMapCorrupt, "csr index tail does not match item count")
	}
	return nil
}

// buildURLTable deduplicates node URLs (invariant: no two nodes share a
// URL — callers are expected to have already enforced this at Builder
// time) and returns the null-terminated blob plus a per-node offset.
func buildURLTable(nodes []Node) (data []byte, offsets []uint32) {
	offsets = make([]uint32, len(nodes))
	buf := &bytes.Buffer{}
	for i, n := range nodes {
		offsets[i] = uint32(buf.Len())
		buf.WriteString(n.URL)
		buf.WriteByte(0)
	}
	return buf.Bytes(), offsets
}

func readCString(data []byte, offset int) (string, error) {
	if offset < 0 || offset > len(data) {
		return "", fmt.Errorf("offset %d out of bounds (len %d)", offset, len(data))
	}
	end := offset
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end >= len(data) {
		return "", fmt.Errorf("unterminated string at offset %d", offset)
	}
	return string(data[offset:end]), nil
}

func writeNodeRecord(buf *bytes.Buffer, n *Node) {
	buf.WriteByte(byte(n.PageType))
	buf.WriteByte(float01ToByte(n.Confidence))
	buf.WriteByte(float01ToByte(n.Freshness))
	buf.WriteByte(byte(n.Flags))
	writeUint32(buf, n.ContentHash)
	writeUint32(buf, n.RenderedAt)
	writeUint32(buf, n.HTTPStatus)
	writeUint32(buf, n.Depth)
	writeUint32(buf, n.InboundCount)
	writeUint32(buf, n.OutboundCount)
	writeFloat32(buf, n.FeatureNorm)
}

// nodeRecordSize is the 32-byte logical node record: 4 packed
// single-byte fields (page_type, confidence, freshness, flags) followed by
// 7 uint32/float32 fields. The node's URL lives in the separate URL table,
// addressed positionally by node index, not inline in this record.
const nodeRecordSize = 4 + 4*7

func (r *reader) readNodeRecord() (Node, error) {
	if r.off+nodeRecordSize > len(r.data) {
		return Node{}, cortexerr.New(cortexerr.EMapCorrupt, "truncated node record")
	}
	d := r.data[r.off:]
	n := Node{
		PageType:   PageType(d[0]),
		Confidence: byteToFloat01(d[1]),
		Freshness:  byteToFloat01(d[2]),
		Flags:      NodeFlags(d[3]),
	}
	n.ContentHash = binary.LittleEndian.Uint32(d[4:8])
	n.RenderedAt = binary.LittleEndian.Uint32(d[8:12])
	n.HTTPStatus = binary.LittleEndian.Uint32(d[12:16])
	n.Depth = binary.LittleEndian.Uint32(d[16:20])
	n.InboundCount = binary.LittleEndian.Uint32(d[20:24])
	n.OutboundCount = binary.LittleEndian.Uint32(d[24:28])
	n.FeatureNorm = math.Float32frombits(binary.LittleEndian.Uint32(d[28:32]))
	r.off += nodeRecordSize
	return n, nil
}

func writeEdgeRecord(buf *bytes.Buffer, e Edge) {
	writeUint32(buf, e.TargetNode)
	buf.WriteByte(byte(e.Type))
	buf.WriteByte(e.Weight)
	writeUint16(buf, uint16(e.Flags))
}

const edgeRecordSize = 4 + 1 + 1 + 2 // 8 bytes

func (r *reader) readEdgeRecord() (Edge, error) {
	if r.off+edgeRecordSize > len(r.data) {
		return Edge{}, cortexerr.New(cortexerr.EMapCorrupt, "truncated edge record")
	}
	d := r.data[r.off:]
	e := Edge{
		TargetNode: binary.LittleEndian.Uint32(d[0:4]),
		Type:       EdgeType(d[4]),
		Weight:     d[5],
		Flags:      EdgeFlags(binary.LittleEndian.Uint16(d[6:8])),
	}
	r.off += edgeRecordSize
	return e, nil
}

func writeActionRecord(buf *bytes.Buffer, a Action) {
	writeUint16(buf, uint16(a.Opcode))
	writeUint32(buf, a.TargetNode)
	buf.WriteByte(a.CostHint)
	buf.WriteByte(byte(a.Risk))
}

const actionRecordSize = 2 + 4 + 1 + 1 // 8 bytes

func (r *reader) readActionRecord() (Action, error) {
	if r.off+actionRecordSize > len(r.data) {
		return Action{}, cortexerr.New(cortexerr.EMapCorrupt, "truncated action record")
	}
	d := r.data[r.off:]
	a := Action{
		Opcode:     OpCode(binary.LittleEndian.Uint16(d[0:2])),
		TargetNode: binary.LittleEndian.Uint32(d[2:6]),
		CostHint:   d[6],
		Risk:       ActionRisk(d[7]),
	}
	r.off += actionRecordSize
	return a, nil
}

func (r *reader) readURLTable(nodeCount int, start int) ([]uint32, []byte, error) {
	tailLen := nodeCount * 4
	if len(r.data)-start < tailLen {
		return nil, nil, cortexerr.New(cortexerr.EMapCorrupt, "truncated url table")
	}
	urlDataEnd := len(r.data) - tailLen
	urlData := r.data[start:urlDataEnd]
	offsets := make([]uint32, nodeCount)
	for i := 0; i < nodeCount; i++ {
		offsets[i] = binary.LittleEndian.Uint32(r.data[urlDataEnd+i*4 : urlDataEnd+i*4+4])
	}
	r.off = len(r.data)
	return offsets, urlData, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) readByte() (byte, error) {
	if r.off >= len(r.data) {
		return 0, cortexerr.New(cortexerr.EMapCorrupt, "truncated read")
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) readFloat32() (float32, error) {
	if r.off+4 > len(r.data) {
		return 0, cortexerr.New(cortexerr.EMapCorrupt, "truncated float32")
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.data[r.off : r.off+4]))
	r.off += 4
	return v, nil
}

func (r *reader) readUint32Slice(n int) ([]uint32, error) {
	if n < 0 || r.off+n*4 > len(r.data) {
		return nil, cortexerr.New(cortexerr.EMapCorrupt, "truncated uint32 slice")
	}
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(r.data[r.off+i*4 : r.off+i*4+4])
	}
	r.off += n * 4
	return out, nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeFloat32(buf *bytes.Buffer, v float32) {
	writeUint32(buf, math.Float32bits(v))
}

func writeUint32Slice(buf *bytes.Buffer, s []uint32) {
	for _, v := range s {
		writeUint32(buf, v)
	}
}

func float01ToByte(v float32) byte {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return byte(v*255.0 + 0.5)
}

func byteToFloat01(b byte) float32 {
	return float32(b) / 255.0
}
