package udf

// defaultUDFJS is the reference UDF installed at startup until a delta
// file replaces it. It resolves every argument's keys through getValues
// and returns them grouped by the argument's tags.
const defaultUDFJS = `
function getKeyGroupOutputs(udf_arguments) {
	let keyGroupOutputs = [];
	for (const argument of udf_arguments) {
		let keyGroupOutput = {};
		let data = argument;
		if (argument !== null && typeof argument === "object" && "tags" in argument) {
			keyGroupOutput.tags = argument.tags;
			data = argument.data;
		}
		const getValuesResult = getValues(data);
		if ("kvPairs" in getValuesResult) {
			const kvPairs = getValuesResult.kvPairs;
			const keyValuesOutput = {};
			for (const key of Object.keys(kvPairs)) {
				if ("value" in kvPairs[key]) {
					keyValuesOutput[key] = { value: kvPairs[key].value };
				}
			}
			keyGroupOutput.keyValues = keyValuesOutput;
		}
		keyGroupOutputs.push(keyGroupOutput);
	}
	return keyGroupOutputs;
}

function HandleRequest(executionMetadata) {
	const udf_arguments = Array.prototype.slice.call(arguments, 1);
	const keyGroupOutputs = getKeyGroupOutputs(udf_arguments);
	return { keyGroupOutputs: keyGroupOutputs, udfOutputApiVersion: 1 };
}
`

// DefaultCodeConfig returns the built-in UDF at logical commit time
// zero, so any real code object from a delta file supersedes it.
func DefaultCodeConfig() CodeConfig {
	return CodeConfig{
		JS:                defaultUDFJS,
		UDFHandlerName:    DefaultHandlerName,
		Version:           1,
		LogicalCommitTime: 0,
	}
}
