// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libtipsync.so (Android) / tipsync.framework (iOS)
//
// Functions returning *C.char return JSON that must be freed with
// FreeString, or NULL on failure. Functions returning int32 return 0 on
// success and -1 on failure. GetLastError describes the last failure.
package main

/*
#include <stdlib.h>
*/
import "C"

//export Init
// Init opens the data directory and starts the sync engine. An empty
// dataDir uses the configured default.
func Init(dataDir *C.char) int32 {
	return status(openBridge(C.GoString(dataDir), nil))
}

//export Cleanup
// Cleanup stops background work and closes the database.
func Cleanup() {
	setLastError(closeBridge())
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	return C.CString(getLastError())
}

//export TipSubmit
// TipSubmit submits or queues a tip and returns the outcome.
func TipSubmit(workerID, customerPhone *C.char, amount int64) *C.char {
	return result(submitTip(C.GoString(workerID), C.GoString(customerPhone), amount))
}

//export TipList
// TipList lists recorded tips, newest first. Empty filters match all.
func TipList(workerID, status *C.char, limit int32) *C.char {
	return result(listTips(C.GoString(workerID), C.GoString(status), int(limit)))
}

//export QueueList
// QueueList lists queued intents in submission order.
func QueueList() *C.char {
	return result(listQueue())
}

//export QueueRemove
// QueueRemove drops a queued intent.
func QueueRemove(id *C.char) int32 {
	return status(removeQueueEntry(C.GoString(id)))
}

//export NetworkSet
// NetworkSet reports connectivity. Nonzero means online.
func NetworkSet(online int32) int32 {
	return status(setNetwork(online != 0))
}

//export WorkerPut
// WorkerPut caches a worker profile given as JSON.
func WorkerPut(workerJSON *C.char) int32 {
	return status(putWorker(C.GoString(workerJSON)))
}

//export SettlementApply
// SettlementApply applies a relayed gateway callback body.
func SettlementApply(body *C.char) *C.char {
	return result(applySettlement(C.GoString(body)))
}

//export SyncStatus
// SyncStatus returns connectivity, queue and drain state.
func SyncStatus() *C.char {
	return result(syncStatus())
}

func result(data string, err error) *C.char {
	setLastError(err)
	if err != nil {
		return nil
	}
	return C.CString(data)
}

func status(err error) int32 {
	setLastError(err)
	if err != nil {
		return -1
	}
	return 0
}
