package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for transfer operations.
const (
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	AttrProtocol  = "protocol.name" // http, ws
	AttrOperation = "transfer.operation"

	AttrTransferUID  = "transfer.uid"
	AttrFilename     = "transfer.filename"
	AttrSize         = "transfer.size"
	AttrStatus       = "transfer.status"
	AttrStatusMsg    = "transfer.status_msg"
	AttrEOF          = "transfer.eof"
	AttrBytesRead    = "transfer.bytes_read"
	AttrBytesWrite   = "transfer.bytes_written"
	AttrQueueDepth   = "transfer.queue_depth"
	AttrChunkOrdinal = "transfer.chunk_ordinal"

	AttrStoreName = "store.name"
	AttrStoreType = "store.type"
)

// Span names for internal operations.
const (
	SpanTransferUpload   = "transfer.upload"
	SpanTransferDownload = "transfer.download"
	SpanTransferCreate   = "transfer.create"
	SpanTransferCleanup  = "transfer.cleanup"

	SpanStorePutChunk      = "store.put_chunk"
	SpanStoreTakeChunk     = "store.take_chunk"
	SpanStoreSetEvent      = "store.set_event"
	SpanStoreWaitForEvent  = "store.wait_for_event"
	SpanStoreSetMetadata   = "store.set_metadata"
	SpanStoreCleanup       = "store.cleanup"
)

// ClientIP returns an attribute for the remote client's IP address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for the remote client's full address.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Protocol returns an attribute for the adapter protocol name (http, ws).
func Protocol(name string) attribute.KeyValue {
	return attribute.String(AttrProtocol, name)
}

// TransferOperation returns an attribute for the transfer operation name.
func TransferOperation(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

// TransferUID returns an attribute for the transfer identifier.
func TransferUID(uid string) attribute.KeyValue {
	return attribute.String(AttrTransferUID, uid)
}

// Filename returns an attribute for the transferred file's name.
func Filename(name string) attribute.KeyValue {
	return attribute.String(AttrFilename, name)
}

// Size returns an attribute for a declared or observed byte size.
func Size(size uint64) attribute.KeyValue {
	return attribute.Int64(AttrSize, int64(size))
}

// Status returns an attribute for an HTTP/WS status code.
func Status(status int) attribute.KeyValue {
	return attribute.Int(AttrStatus, status)
}

// StatusMsg returns an attribute for a human-readable status message.
func StatusMsg(msg string) attribute.KeyValue {
	return attribute.String(AttrStatusMsg, msg)
}

// EOF returns an attribute marking the end of a chunk stream.
func EOF(eof bool) attribute.KeyValue {
	return attribute.Bool(AttrEOF, eof)
}

// BytesRead returns an attribute for bytes read from an upload stream.
func BytesRead(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrBytesRead, int64(n))
}

// BytesWritten returns an attribute for bytes written to a download stream.
func BytesWritten(n uint64) attribute.KeyValue {
	return attribute.Int64(AttrBytesWrite, int64(n))
}

// QueueDepth returns an attribute for the current chunk queue depth.
func QueueDepth(depth int) attribute.KeyValue {
	return attribute.Int(AttrQueueDepth, depth)
}

// ChunkOrdinal returns an attribute for a chunk's position in the stream.
func ChunkOrdinal(n int) attribute.KeyValue {
	return attribute.Int(AttrChunkOrdinal, n)
}

// StoreName returns an attribute for the backing store's name.
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreType returns an attribute for the backing store's type (e.g. redis).
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// StartProtocolSpan starts a span for a protocol adapter operation.
func StartProtocolSpan(ctx context.Context, protocol, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Protocol(protocol),
		TransferOperation(operation),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, protocol+"."+operation, trace.WithAttributes(allAttrs...))
}

// StartTransferSpan starts a span for a transfer lifecycle operation,
// tagging it with the transfer uid.
func StartTransferSpan(ctx context.Context, name, uid string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{TransferUID(uid)}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartStoreSpan starts a span for a Store backend operation.
func StartStoreSpan(ctx context.Context, name, uid string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{TransferUID(uid), StoreType("redis")}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}
