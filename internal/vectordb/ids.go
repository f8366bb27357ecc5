package vectordb

import (
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace 生成分块ID的UUIDv5命名空间
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("doc-ingest/chunk"))

// ChunkID 由文件ID和分块序号确定的分块ID
func ChunkID(fileID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fileID+"#"+strconv.Itoa(index))).String()
}

// ChunkIDs 返回文件前count个分块的ID
func ChunkIDs(fileID string, count int) []string {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = ChunkID(fileID, i)
	}
	return ids
}
