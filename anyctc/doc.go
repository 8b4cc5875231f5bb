// Package anyctc implements Connectionist Temporal
// Classification (CTC) for the CTC heads of speech models.
//
// Every timestep holds log probabilities for each label
// followed by the blank symbol, so a vocabulary of N labels
// needs N+1 outputs.
//
// See http://www.cs.toronto.edu/~graves/icml_2006.pdf.
package anyctc
